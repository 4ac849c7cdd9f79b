package targetmodel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"speculatoviz/internal/errs"
)

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const sampleCompletionsBody = `{
  "choices": [{
    "text": "ab",
    "logprobs": {
      "tokens": ["a", "b"],
      "token_logprobs": [-0.1, -0.2],
      "top_logprobs": [{"a": -0.1, "z": -2.0}, {"b": -0.2}]
    }
  }]
}`

func TestVerifyBuildsPositionsFromResponse(t *testing.T) {
	c := NewHTTPClient("https://example.test/v1", "key", "some-model", NewRegistry(), 5*time.Second)
	c.do = func(req *http.Request) (*http.Response, error) {
		return fakeResponse(200, sampleCompletionsBody), nil
	}

	result, err := c.Verify(context.Background(), "system", "so far", 2, 0.7)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(result.Positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(result.Positions))
	}
	if result.Positions[0].Token != "a" || result.Positions[1].Token != "b" {
		t.Errorf("unexpected tokens: %+v", result.Positions)
	}
	if result.Positions[0].Alternatives[0].Token != "a" {
		t.Errorf("expected alternatives sorted descending by logprob, got %+v", result.Positions[0].Alternatives)
	}
}

func TestVerifyRetriesOnTransient5xxThenSucceeds(t *testing.T) {
	c := NewHTTPClient("https://example.test/v1", "key", "some-model", NewRegistry(), 5*time.Second)
	calls := 0
	c.do = func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return fakeResponse(503, "upstream overloaded"), nil
		}
		return fakeResponse(200, sampleCompletionsBody), nil
	}

	_, err := c.Verify(context.Background(), "", "", 2, 0.5)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls (1 retry), got %d", calls)
	}
}

func TestVerifyFailsAfterRetryExhausted(t *testing.T) {
	c := NewHTTPClient("https://example.test/v1", "key", "some-model", NewRegistry(), 5*time.Second)
	calls := 0
	c.do = func(req *http.Request) (*http.Response, error) {
		calls++
		return fakeResponse(503, "still overloaded"), nil
	}

	_, err := c.Verify(context.Background(), "", "", 2, 0.5)
	if err == nil {
		t.Fatal("expected an error after retry exhausted")
	}
	class, ok := errs.Classify(err)
	if !ok || class != errs.TransientRemote {
		t.Errorf("expected TransientRemote classification, got %v (ok=%v)", class, ok)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls (initial + 1 retry), got %d", calls)
	}
}

func TestVerifyMalformedResponseIsInvalidRemote(t *testing.T) {
	c := NewHTTPClient("https://example.test/v1", "key", "some-model", NewRegistry(), 5*time.Second)
	c.do = func(req *http.Request) (*http.Response, error) {
		return fakeResponse(200, `{"choices": []}`), nil
	}

	_, err := c.Verify(context.Background(), "", "", 2, 0.5)
	if err == nil {
		t.Fatal("expected an error for a choiceless response")
	}
	class, ok := errs.Classify(err)
	if !ok || class != errs.InvalidRemote {
		t.Errorf("expected InvalidRemote classification, got %v (ok=%v)", class, ok)
	}
}

func TestVerifyFloorsZeroTemperature(t *testing.T) {
	c := NewHTTPClient("https://example.test/v1", "key", "some-model", NewRegistry(), 5*time.Second)
	var sentBody []byte
	c.do = func(req *http.Request) (*http.Response, error) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(req.Body)
		sentBody = buf.Bytes()
		return fakeResponse(200, sampleCompletionsBody), nil
	}

	_, err := c.Verify(context.Background(), "", "", 2, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !strings.Contains(string(sentBody), `"temperature":0.01`) {
		t.Errorf("expected nominal zero temperature floor in request body, got %s", sentBody)
	}
}
