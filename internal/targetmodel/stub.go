package targetmodel

import (
	"context"
	"fmt"
)

// Stub is a deterministic Model used by speculator tests: it replays a fixed
// per-call response plan instead of calling any remote API, in the style of
// draftmodel.Stub.
type Stub struct {
	// Responses[i] is returned on the i-th call to Verify.
	Responses []VerificationResult
	calls     int

	// Prompts records the (systemPrompt, generatedTextSoFar) pairs Verify was
	// called with, for assertions on what the speculator sent.
	Prompts []StubCall
}

type StubCall struct {
	SystemPrompt       string
	GeneratedTextSoFar string
	KPlusOne           int
	Temperature        float64
}

func (s *Stub) Verify(ctx context.Context, systemPrompt, generatedTextSoFar string, kPlusOne int, temperature float64) (VerificationResult, error) {
	s.Prompts = append(s.Prompts, StubCall{systemPrompt, generatedTextSoFar, kPlusOne, temperature})
	if s.calls >= len(s.Responses) {
		return VerificationResult{}, fmt.Errorf("stub target model: no more canned responses (call %d)", s.calls)
	}
	r := s.Responses[s.calls]
	s.calls++
	return r, nil
}

var _ Model = (*Stub)(nil)
