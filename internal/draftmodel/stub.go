package draftmodel

import (
	"context"
	"fmt"
	"strings"

	"speculatoviz/internal/sampling"
)

// Stub is a deterministic Model used by speculator tests: it replays a fixed
// per-round token plan instead of running any real inference, in the style of
// a canned-response test double keyed by call count.
type Stub struct {
	// Rounds[i] is the list of tokens Draft returns on its i-th call.
	Rounds [][]Token
	calls  int

	// VocabText maps a token id to its decoded text fragment; Decode
	// concatenates these exactly once per call, simulating a real tokenizer's
	// single-decode-of-the-whole-sequence contract.
	VocabText map[int]string
}

func (s *Stub) Draft(ctx context.Context, contextIDs []int, k int, temperature float64) ([]Token, error) {
	if s.calls >= len(s.Rounds) {
		return nil, fmt.Errorf("stub draft model: no more canned rounds (call %d)", s.calls)
	}
	round := s.Rounds[s.calls]
	s.calls++
	if len(round) > k {
		round = round[:k]
	}
	return round, nil
}

func (s *Stub) Decode(ctx context.Context, ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if t, ok := s.VocabText[id]; ok {
			b.WriteString(t)
		} else {
			fmt.Fprintf(&b, "<%d>", id)
		}
	}
	return b.String(), nil
}

func (s *Stub) Tokenize(ctx context.Context, text string) ([]int, error) {
	for id, t := range s.VocabText {
		if t == text {
			return []int{id}, nil
		}
	}
	return nil, fmt.Errorf("stub draft model: unknown text %q", text)
}

func (s *Stub) ApplyChatTemplate(ctx context.Context, prompt string) (string, []int, error) {
	return prompt, []int{1}, nil
}

var _ Model = (*Stub)(nil)

// MakeAlt is a convenience constructor for a sampling.Candidate in tests.
func MakeAlt(id int, token string, logprob float64) sampling.Candidate {
	return sampling.Candidate{TokenID: id, Token: token, Logprob: logprob}
}
