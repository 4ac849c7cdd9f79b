package draftmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"speculatoviz/internal/errs"
	"speculatoviz/internal/sampling"
)

// HTTPClient drives a local completions server (the kind of process a
// llama.cpp/MLX server exposes on localhost) as the draft model. Unlike
// TargetModel's HTTPClient, the server here is assumed to be a trusted local
// process the orchestrator also controls tokenization through, so it is
// queried for token ids directly rather than re-deriving them from text.
// This is the adapter seam spec §4.2 describes the quantized local runtime
// plugging into; it never loads tensors or kernels itself.
type HTTPClient struct {
	BaseURL string
	Model   string

	hc *http.Client
	do func(*http.Request) (*http.Response, error)
}

// NewHTTPClient constructs a client against a local server's baseURL.
func NewHTTPClient(baseURL, model string, timeout time.Duration) *HTTPClient {
	hc := &http.Client{Timeout: timeout}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		hc:      hc,
		do:      hc.Do,
	}
}

type draftCompletionRequest struct {
	Prompt      []int   `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
	NProbs      int     `json:"n_probs"`
	CachePrompt bool    `json:"cache_prompt"`
}

type draftProb struct {
	ID      int     `json:"id"`
	TokStr  string  `json:"tok_str"`
	Logprob float64 `json:"logprob"`
}

type draftCompletionStep struct {
	ID    int         `json:"id"`
	Token string      `json:"tok_str"`
	Probs []draftProb `json:"probs"`
}

type draftCompletionResponse struct {
	Tokens []draftCompletionStep `json:"tokens"`
}

// Draft requests k continuation tokens from the local server's context cache.
// The server keeps the KV cache for contextIDs across calls when
// CachePrompt is set, the same role the teacher's EngineAdapter fills for its
// own in-process engine.
func (c *HTTPClient) Draft(ctx context.Context, contextIDs []int, k int, temperature float64) ([]Token, error) {
	reqBody := draftCompletionRequest{
		Prompt:      contextIDs,
		NPredict:    k,
		Temperature: temperature,
		NProbs:      TopAlternativesMin,
		CachePrompt: true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errs.New(errs.LocalInference, fmt.Errorf("encode draft request: %w", err))
	}

	resp, err := c.doOnce(ctx, "/infill-step", body)
	if err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(resp.Tokens))
	for _, step := range resp.Tokens {
		alts := make([]sampling.Candidate, 0, len(step.Probs))
		var sampledLogprob float64
		for _, p := range step.Probs {
			alts = append(alts, sampling.Candidate{TokenID: p.ID, Token: p.TokStr, Logprob: p.Logprob})
			if p.ID == step.ID {
				sampledLogprob = p.Logprob
			}
		}
		sort.Slice(alts, func(a, b int) bool { return alts[a].Logprob > alts[b].Logprob })
		tokens = append(tokens, Token{
			TokenID:      step.ID,
			Token:        step.Token,
			Logprob:      sampledLogprob,
			Entropy:      sampling.Entropy(logprobsOf(alts)),
			Alternatives: alts,
		})
	}
	return tokens, nil
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

// Decode renders the full id sequence in one call, never concatenating
// per-token decoded fragments (tokenizers are not string-homomorphic).
func (c *HTTPClient) Decode(ctx context.Context, ids []int) (string, error) {
	body, err := json.Marshal(detokenizeRequest{Tokens: ids})
	if err != nil {
		return "", errs.New(errs.LocalInference, fmt.Errorf("encode detokenize request: %w", err))
	}
	var out detokenizeResponse
	if err := c.doJSON(ctx, "/detokenize", body, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

type tokenizeRequest struct {
	Content string `json:"content"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// Tokenize converts text to ids using the local server's own tokenizer.
func (c *HTTPClient) Tokenize(ctx context.Context, text string) ([]int, error) {
	body, err := json.Marshal(tokenizeRequest{Content: text})
	if err != nil {
		return nil, errs.New(errs.LocalInference, fmt.Errorf("encode tokenize request: %w", err))
	}
	var out tokenizeResponse
	if err := c.doJSON(ctx, "/tokenize", body, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// ApplyChatTemplate renders prompt text under a minimal user-turn framing and
// tokenizes it. Real chat templates live server-side in the corpus this
// client talks to; the orchestrator only needs the resulting ids.
func (c *HTTPClient) ApplyChatTemplate(ctx context.Context, prompt string) (string, []int, error) {
	text := "<|user|>\n" + prompt + "\n<|assistant|>\n"
	ids, err := c.Tokenize(ctx, text)
	if err != nil {
		return "", nil, err
	}
	return text, ids, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, path string, body []byte) (*draftCompletionResponse, error) {
	var out draftCompletionResponse
	if err := c.doJSON(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	url := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.LocalInference, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.New(errs.Canceled, ctx.Err())
		}
		return errs.New(errs.LocalInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return errs.New(errs.LocalInference, fmt.Errorf("local draft server %s %d: %s", path, resp.StatusCode, strings.TrimSpace(string(slurp))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(errs.LocalInference, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func logprobsOf(alts []sampling.Candidate) []float64 {
	out := make([]float64, len(alts))
	for i, a := range alts {
		out[i] = a.Logprob
	}
	return out
}

var _ Model = (*HTTPClient)(nil)
