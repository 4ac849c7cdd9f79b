// Package draftmodel defines the local autoregressive sampler seam the
// speculator drives for K proposed tokens per round, plus the numerical
// helpers (log-softmax, entropy) every adapter must route raw logits through.
package draftmodel

import (
	"context"

	"speculatoviz/internal/sampling"
)

// Token is one drafted position's sampled token, its normalized
// log-probability under the (temperature-scaled) draft distribution, its
// entropy in nats, and its top alternatives for visualization and residual
// sampling.
type Token struct {
	TokenID      int
	Token        string
	Logprob      float64
	Entropy      float64
	Alternatives []sampling.Candidate // len >= 10, descending by logprob
}

// Model is the contract the speculator drives. Implementations own any KV
// cache or equivalent state and must carry it across the K positions of a
// single Draft call for acceptable latency.
type Model interface {
	// Draft proposes k tokens continuing contextIDs at the given temperature.
	// logprob_sampled on each returned Token is the log-probability of the
	// sampled token under the temperature-scaled distribution actually used,
	// not the raw-logit distribution.
	Draft(ctx context.Context, contextIDs []int, k int, temperature float64) ([]Token, error)

	// Decode renders a token id sequence to text in one call; callers must
	// never concatenate per-token decoded strings (tokenizers are not
	// string-homomorphic).
	Decode(ctx context.Context, ids []int) (string, error)

	// Tokenize converts text to token ids using the draft model's own
	// tokenizer, used when re-tokenizing a resampled or bonus token's text.
	Tokenize(ctx context.Context, text string) ([]int, error)

	// ApplyChatTemplate renders prompt text plus ids under the draft model's
	// chat template, for building the initial context.
	ApplyChatTemplate(ctx context.Context, prompt string) (text string, ids []int, err error)
}

// TopAlternativesMin is the minimum length of Token.Alternatives per spec §3.
const TopAlternativesMin = 10

// NormalizeLogits converts raw logits into a draftmodel.Token's normalized
// logprob/entropy/alternatives fields for the sampled index, applying
// temperature scaling first. Adapters backed by a raw-logit local runtime use
// this so they never expose unnormalized values.
func NormalizeLogits(logits []float64, temperature float64, sampledIdx int, tokenText func(int) string, topN int) Token {
	scaled := make([]float64, len(logits))
	if temperature <= 0 {
		// argmax: logits are scaled to a near-degenerate distribution by
		// dividing by an arbitrarily small temperature floor rather than
		// special-casing T=0 in two code paths.
		temperature = 1e-4
	}
	for i, l := range logits {
		scaled[i] = l / temperature
	}
	logprobs := sampling.LogSoftmax(scaled)

	top := sampling.TopK(logprobs, topN)
	alts := make([]sampling.Candidate, len(top))
	for i, idx := range top {
		alts[i] = sampling.Candidate{TokenID: idx, Token: tokenText(idx), Logprob: logprobs[idx]}
	}

	return Token{
		TokenID:      sampledIdx,
		Token:        tokenText(sampledIdx),
		Logprob:      logprobs[sampledIdx],
		Entropy:      sampling.Entropy(logprobs),
		Alternatives: alts,
	}
}
