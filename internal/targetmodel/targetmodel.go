// Package targetmodel implements the remote verifier: a completions-style
// HTTP client that, given a formatted prompt, returns per-position sampled
// tokens plus truncated top-N log-probability lists sufficient to run
// rejection sampling and support resampling.
package targetmodel

import (
	"context"

	"speculatoviz/internal/sampling"
)

// MinTopN is the minimum per-position alternatives count requested, per spec §4.3.
const MinTopN = 20

// NominalZeroTemperature is substituted for a caller-requested temperature of
// 0, because many providers refuse to return logprobs at literal T=0.
const NominalZeroTemperature = 0.01

// Position mirrors spec.md's TargetPositionInfo: the sampled token at
// position i, plus its top-N alternatives under p, sorted descending by
// logprob.
type Position struct {
	Token        string
	Logprob      float64 // log p(sampled token); informational, the rejection test reads Alternatives
	Alternatives []sampling.Candidate
	Entropy      float64
}

// VerificationResult is the outcome of one verify() call.
type VerificationResult struct {
	Positions []Position
	LatencyMs float64
}

// Model is the contract the speculator drives for verification. Formatting
// is the client's responsibility: it renders systemPrompt and
// generatedTextSoFar through its configured PromptFormatter before issuing
// the request, mirroring the original implementation's
// verify_tokens(prompt=..., generated_text=...) call shape.
type Model interface {
	// Verify requests kPlusOne output positions continuing the formatted
	// prompt at the given nominal temperature. The caller may pass 0; the
	// HTTP client substitutes NominalZeroTemperature itself.
	Verify(ctx context.Context, systemPrompt, generatedTextSoFar string, kPlusOne int, temperature float64) (VerificationResult, error)
}

// PromptFormatter renders the system/user framing plus the text generated so
// far into the literal continuation prompt the target's completions endpoint
// receives. Selection is data-driven by target-model family (spec §9), not
// inheritance: see Registry.
type PromptFormatter interface {
	Format(systemPrompt, generatedTextSoFar string) string
}
