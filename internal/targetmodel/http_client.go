package targetmodel

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
	"speculatoviz/internal/logger"
	"speculatoviz/internal/metrics"
	"speculatoviz/internal/sampling"
)

// HTTPClient talks to an OpenAI-completions-compatible endpoint, the way the
// target model's own provider API (a Cerebras-hosted, OpenAI-shaped
// completions endpoint) is wrapped. One retry with a 250ms backoff is
// attempted on transient (5xx/timeout) failures; anything else is fatal.
type HTTPClient struct {
	BaseURL   string
	APIKey    string
	Model     string
	Formatter PromptFormatter

	hc *http.Client
	do func(*http.Request) (*http.Response, error)
}

// NewHTTPClient constructs a client against baseURL using apiKey for bearer
// auth, selecting formatter by model family via reg.
func NewHTTPClient(baseURL, apiKey, model string, reg *Registry, timeout time.Duration) *HTTPClient {
	hc := &http.Client{Timeout: timeout}
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		Model:     model,
		Formatter: reg.For(model),
		hc:        hc,
		do:        hc.Do,
	}
}

type completionsRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Logprobs    int     `json:"logprobs"`
	N           int     `json:"n,omitempty"`
}

type completionsResponse struct {
	Choices []struct {
		Text     string `json:"text"`
		Logprobs struct {
			Tokens        []string             `json:"tokens"`
			TokenLogprobs []float64            `json:"token_logprobs"`
			TopLogprobs   []map[string]float64 `json:"top_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

// Verify requests kPlusOne output positions. It issues one HTTP request per
// call, plus one retry after a transient failure: a completions-endpoint call
// with logprobs enabled returns one
// position's worth of (token, top-N logprobs) per generated step, which this
// client reassembles into VerificationResult.Positions. The prompt is
// rendered through c.Formatter before the request is sent, so the target
// always sees its own native chat framing rather than the draft's.
func (c *HTTPClient) Verify(ctx context.Context, systemPrompt, generatedTextSoFar string, kPlusOne int, temperature float64) (VerificationResult, error) {
	if temperature <= 0 {
		temperature = NominalZeroTemperature
	}
	promptText := c.Formatter.Format(systemPrompt, generatedTextSoFar)

	reqBody := completionsRequest{
		Model:       c.Model,
		Prompt:      promptText,
		MaxTokens:   kPlusOne,
		Temperature: temperature,
		Logprobs:    MinTopN,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return VerificationResult{}, errs.New(errs.InvalidRemote, fmt.Errorf("encode request: %w", err))
	}

	start := time.Now()
	resp, err := c.doWithRetry(ctx, body)
	latency := time.Since(start)
	if err != nil {
		return VerificationResult{}, err
	}

	positions, err := positionsFromResponse(resp)
	if err != nil {
		return VerificationResult{}, errs.New(errs.InvalidRemote, err)
	}
	if len(positions) < kPlusOne {
		logger.Log.Warn("target returned fewer positions than requested",
			"requested", kPlusOne, "got", len(positions))
	}

	return VerificationResult{Positions: positions, LatencyMs: float64(latency.Milliseconds())}, nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, body []byte) (*completionsResponse, error) {
	resp, err := c.doOnce(ctx, body)
	if err == nil {
		return resp, nil
	}
	class, ok := errs.Classify(err)
	if !ok || !class.IsRetryable() {
		return nil, err
	}
	metrics.VerifyRetries.Inc()
	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
		return nil, errs.New(errs.Canceled, ctx.Err())
	}
	resp, err = c.doOnce(ctx, body)
	if err != nil {
		// retry exhausted: whatever class it is now, it is fatal.
		if class, ok := errs.Classify(err); ok {
			return nil, errs.New(class, fmt.Errorf("after retry: %w", err))
		}
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, body []byte) (*completionsResponse, error) {
	url := c.BaseURL + "/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.InvalidRemote, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.Canceled, ctx.Err())
		}
		return nil, errs.New(errs.TransientRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		metrics.TargetErrors.WithLabelValues("transient_remote").Inc()
		return nil, errs.New(errs.TransientRemote, fmt.Errorf("target upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp))))
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		metrics.TargetErrors.WithLabelValues("invalid_remote").Inc()
		return nil, errs.New(errs.InvalidRemote, fmt.Errorf("target upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp))))
	}

	var cr completionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		metrics.TargetErrors.WithLabelValues("invalid_remote").Inc()
		return nil, errs.New(errs.InvalidRemote, fmt.Errorf("decode response: %w", err))
	}
	return &cr, nil
}

func positionsFromResponse(cr *completionsResponse) ([]Position, error) {
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("target response had no choices")
	}
	ch := cr.Choices[0]
	n := len(ch.Logprobs.Tokens)
	if n == 0 {
		return nil, fmt.Errorf("target response had no per-token logprobs")
	}
	positions := make([]Position, 0, n)
	for i := 0; i < n; i++ {
		tok := ch.Logprobs.Tokens[i]
		var lp float64
		if i < len(ch.Logprobs.TokenLogprobs) {
			lp = ch.Logprobs.TokenLogprobs[i]
		}
		var alts []sampling.Candidate
		if i < len(ch.Logprobs.TopLogprobs) {
			for t, v := range ch.Logprobs.TopLogprobs[i] {
				alts = append(alts, sampling.Candidate{Token: t, Logprob: v})
			}
			sort.Slice(alts, func(a, b int) bool { return alts[a].Logprob > alts[b].Logprob })
		}
		positions = append(positions, Position{
			Token:        tok,
			Logprob:      lp,
			Alternatives: alts,
			Entropy:      sampling.Entropy(logprobsOf(alts)),
		})
	}
	return positions, nil
}

func logprobsOf(alts []sampling.Candidate) []float64 {
	out := make([]float64, len(alts))
	for i, a := range alts {
		out[i] = a.Logprob
	}
	return out
}
