package draftmodel

import (
	"math"
	"testing"
)

func TestNormalizeLogitsProperLogProbability(t *testing.T) {
	logits := []float64{2.0, 1.0, 0.1, -1.0}
	names := map[int]string{0: "a", 1: "b", 2: "c", 3: "d"}
	tok := NormalizeLogits(logits, 1.0, 0, func(i int) string { return names[i] }, 4)

	if tok.Logprob > 0 {
		t.Errorf("expected logprob <= 0, got %v", tok.Logprob)
	}

	sum := 0.0
	for _, a := range tok.Alternatives {
		sum += math.Exp(a.Logprob)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("expected full-vocab probabilities to sum to 1, got %v", sum)
	}
	if tok.Entropy < 0 {
		t.Errorf("expected non-negative entropy, got %v", tok.Entropy)
	}
}

func TestNormalizeLogitsZeroTemperatureIsNearArgmax(t *testing.T) {
	logits := []float64{5.0, 0.0, -5.0}
	names := map[int]string{0: "a", 1: "b", 2: "c"}
	tok := NormalizeLogits(logits, 0, 0, func(i int) string { return names[i] }, 3)
	if tok.Logprob < -1e-2 {
		t.Errorf("expected near-zero logprob for dominant token at T->0, got %v", tok.Logprob)
	}
}

func TestStubDraftDeterministic(t *testing.T) {
	stub := &Stub{
		Rounds: [][]Token{
			{{TokenID: 11, Token: "a"}, {TokenID: 12, Token: "b"}},
		},
		VocabText: map[int]string{11: "a", 12: "b"},
	}
	out, err := stub.Draft(nil, nil, 2, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].TokenID != 11 || out[1].TokenID != 12 {
		t.Fatalf("unexpected draft output: %+v", out)
	}

	text, err := stub.Decode(nil, []int{11, 12})
	if err != nil || text != "ab" {
		t.Fatalf("expected decode \"ab\", got %q err=%v", text, err)
	}
}
