package draftmodel

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"speculatoviz/internal/errs"
)

func fakeDraftResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const sampleDraftBody = `{
  "tokens": [
    {"id": 11, "tok_str": "a", "probs": [{"id": 11, "tok_str": "a", "logprob": -0.1}, {"id": 99, "tok_str": "z", "logprob": -3.0}]},
    {"id": 12, "tok_str": "b", "probs": [{"id": 12, "tok_str": "b", "logprob": -0.2}]}
  ]
}`

func TestDraftBuildsTokensFromResponse(t *testing.T) {
	c := NewHTTPClient("http://localhost:8081", "some-model", 5*time.Second)
	c.do = func(req *http.Request) (*http.Response, error) {
		return fakeDraftResponse(200, sampleDraftBody), nil
	}

	tokens, err := c.Draft(context.Background(), []int{1, 2}, 2, 0.7)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(tokens))
	}
	if tokens[0].TokenID != 11 || tokens[0].Token != "a" {
		t.Errorf("unexpected first token: %+v", tokens[0])
	}
	if tokens[0].Logprob != -0.1 {
		t.Errorf("expected sampled logprob -0.1, got %v", tokens[0].Logprob)
	}
}

func TestDraftClassifiesNonOKAsLocalInference(t *testing.T) {
	c := NewHTTPClient("http://localhost:8081", "some-model", 5*time.Second)
	c.do = func(req *http.Request) (*http.Response, error) {
		return fakeDraftResponse(500, "oom"), nil
	}

	_, err := c.Draft(context.Background(), []int{1}, 1, 0.7)
	if err == nil {
		t.Fatal("expected an error on 500")
	}
	class, ok := errs.Classify(err)
	if !ok || class != errs.LocalInference {
		t.Errorf("expected LocalInference classification, got %v (ok=%v)", class, ok)
	}
}

func TestTokenizeAndDecodeRoundTrip(t *testing.T) {
	c := NewHTTPClient("http://localhost:8081", "some-model", 5*time.Second)
	calls := 0
	c.do = func(req *http.Request) (*http.Response, error) {
		calls++
		if strings.HasSuffix(req.URL.Path, "/tokenize") {
			return fakeDraftResponse(200, `{"tokens": [5, 6]}`), nil
		}
		return fakeDraftResponse(200, `{"content": "hi there"}`), nil
	}

	ids, err := c.Tokenize(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	text, err := c.Decode(context.Background(), ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "hi there" {
		t.Errorf("got %q, want %q", text, "hi there")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestApplyChatTemplateTokenizes(t *testing.T) {
	c := NewHTTPClient("http://localhost:8081", "some-model", 5*time.Second)
	var sentBody string
	c.do = func(req *http.Request) (*http.Response, error) {
		buf := new(strings.Builder)
		io.Copy(buf, req.Body)
		sentBody = buf.String()
		return fakeDraftResponse(200, `{"tokens": [1, 2, 3]}`), nil
	}

	text, ids, err := c.ApplyChatTemplate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ApplyChatTemplate: %v", err)
	}
	if !strings.Contains(text, "hello") {
		t.Errorf("expected rendered text to contain prompt, got %q", text)
	}
	if len(ids) != 3 {
		t.Errorf("got %d ids, want 3", len(ids))
	}
	if !strings.Contains(sentBody, "hello") {
		t.Errorf("expected tokenize request body to carry the rendered text, got %s", sentBody)
	}
}
