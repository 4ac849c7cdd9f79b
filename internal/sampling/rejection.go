// Package sampling implements the modified rejection sampling algorithm
// (Leviathan et al., 2023) that lets a small draft model's proposals stand in
// for a large target model's samples without biasing the output distribution.
package sampling

import (
	"math"
	"math/rand"
)

const (
	epsFloor    = 1e-6
	floorLogEps = -13.815510557964274 // math.Log(1e-6), spelled out to avoid init-time floating point surprises
	deltaLn2    = 0.6931471805599453  // math.Ln2
)

// Candidate is a (token text, logprob) pair drawn from a top-N list. Token
// text, not id, is the comparison key throughout this package: the draft and
// target models use independent tokenizers, so a draft token id has no
// meaning in the target's vocabulary and vice versa. TokenID is carried when
// the originating model does expose one (the draft model always does; the
// target's completions API generally does not) and is otherwise zero.
type Candidate struct {
	TokenID int
	Token   string
	Logprob float64
}

// DraftPosition is one drafted position's sampled token plus its top
// alternatives under q (the draft distribution).
type DraftPosition struct {
	TokenID      int
	Token        string
	Logprob      float64 // log q(sampled token)
	Alternatives []Candidate
}

// TargetPosition is one verified position's sampled token plus its top
// alternatives under p (the target distribution).
type TargetPosition struct {
	Token        string
	Logprob      float64 // log p(target's own sampled token); Run reads only Alternatives
	Alternatives []Candidate
}

// Outcome is the per-position disposition recorded in a Verdict.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeResampled Outcome = "resampled"
	OutcomeSkipped   Outcome = "skipped"
)

// Sample is a token produced by resampling from the residual distribution.
// It carries text only: the speculator re-tokenizes it through the draft
// model's own tokenizer before appending to the committed id sequence, the
// same way a bonus token is re-tokenized.
type Sample struct {
	Token string
}

// Verdict is the result of running the sampler over one round's aligned
// (draft, target) position pairs.
type Verdict struct {
	AcceptedCount int
	ResampleToken *Sample
	Outcomes      []Outcome
	// AcceptanceProbs[i] is min(1, p_i/q_i) for every evaluated position,
	// used only for visualization; it is nil for positions never reached.
	AcceptanceProbs []*float64
	TargetLogprobs  []*float64
}

// targetLogprobFor finds a candidate's logprob by token text in a top-N
// list, applying the spec's floor rule when the token is absent: the minimum
// listed logprob minus ln(2), floored at log(epsFloor).
func targetLogprobFor(tokenText string, alts []Candidate) float64 {
	minListed := math.Inf(1)
	for _, c := range alts {
		if c.Token == tokenText {
			return c.Logprob
		}
		if c.Logprob < minListed {
			minListed = c.Logprob
		}
	}
	if math.IsInf(minListed, 1) {
		return floorLogEps
	}
	floored := minListed - deltaLn2
	if floored < floorLogEps {
		return floorLogEps
	}
	return floored
}

// Run executes the per-position accept/reject/resample loop over k aligned
// positions. rng supplies the uniform draws; callers needing determinism
// (tests) should pass a seeded *rand.Rand.
func Run(draft []DraftPosition, target []TargetPosition, rng *rand.Rand) Verdict {
	k := len(draft)
	v := Verdict{
		Outcomes:        make([]Outcome, k),
		AcceptanceProbs: make([]*float64, k),
		TargetLogprobs:  make([]*float64, k),
	}

	for i := 0; i < k; i++ {
		logQ := draft[i].Logprob
		logP := targetLogprobFor(draft[i].Token, target[i].Alternatives)
		tlp := logP
		v.TargetLogprobs[i] = &tlp

		// force rejection when either probability is at or below the floor
		forcedReject := logP <= floorLogEps || logQ <= floorLogEps

		var acceptProb float64
		var accept bool
		if !forcedReject && logP >= logQ {
			acceptProb = 1.0
			accept = true
		} else if !forcedReject {
			acceptProb = math.Exp(logP - logQ)
			u := rng.Float64()
			accept = u < acceptProb
		} else {
			acceptProb = 0
			accept = false
		}
		ap := acceptProb
		v.AcceptanceProbs[i] = &ap

		if accept {
			v.Outcomes[i] = OutcomeAccepted
			v.AcceptedCount++
			continue
		}

		v.Outcomes[i] = OutcomeRejected
		sample := resample(draft[i].Alternatives, target[i].Alternatives, rng)
		v.ResampleToken = &sample
		for j := i + 1; j < k; j++ {
			v.Outcomes[j] = OutcomeSkipped
		}
		return v
	}

	return v
}

// resample draws from r = normalize(max(0, p - q)) over the union of tokens
// present in either top-N list (keyed by token text); tokens absent from a
// list are treated as probability zero in that list, per the spec's
// residual-distribution rule.
func resample(draftAlts, targetAlts []Candidate, rng *rand.Rand) Sample {
	type entry struct {
		token string
		p, q  float64
	}
	byText := make(map[string]*entry)
	order := make([]string, 0, len(draftAlts)+len(targetAlts))
	for _, c := range draftAlts {
		if _, ok := byText[c.Token]; !ok {
			order = append(order, c.Token)
			byText[c.Token] = &entry{token: c.Token}
		}
		byText[c.Token].q = math.Exp(c.Logprob)
	}
	for _, c := range targetAlts {
		e, ok := byText[c.Token]
		if !ok {
			order = append(order, c.Token)
			e = &entry{token: c.Token}
			byText[c.Token] = e
		}
		e.p = math.Exp(c.Logprob)
	}

	residual := make([]float64, len(order))
	sum := 0.0
	for i, tok := range order {
		e := byText[tok]
		r := e.p - e.q
		if r < 0 {
			r = 0
		}
		residual[i] = r
		sum += r
	}

	if sum <= 0 {
		// degenerate case: residual has no mass (e.g. q dominates p
		// everywhere observed); fall back to sampling directly from p,
		// renormalized over its own top-N.
		return sampleFromTarget(targetAlts, rng)
	}

	u := rng.Float64() * sum
	cum := 0.0
	for i, tok := range order {
		cum += residual[i]
		if u <= cum {
			return Sample{Token: tok}
		}
	}
	return Sample{Token: order[len(order)-1]}
}

// ResampleFromComplement draws a token from the draft distribution's own
// alternatives, renormalized after excluding the already-sampled token. It
// is used when the target returns fewer than K positions (some providers
// truncate): per spec §4.1, a draft position with no corresponding target data is
// treated as a forced rejection, resampled from the draft distribution's
// complement rather than from a nonexistent target distribution.
func ResampleFromComplement(draftAlts []Candidate, sampledToken string, rng *rand.Rand) Sample {
	sum := 0.0
	probs := make([]float64, 0, len(draftAlts))
	toks := make([]string, 0, len(draftAlts))
	for _, c := range draftAlts {
		if c.Token == sampledToken {
			continue
		}
		p := math.Exp(c.Logprob)
		probs = append(probs, p)
		toks = append(toks, c.Token)
		sum += p
	}
	if sum <= 0 || len(toks) == 0 {
		return Sample{}
	}
	u := rng.Float64() * sum
	cum := 0.0
	for i, p := range probs {
		cum += p
		if u <= cum {
			return Sample{Token: toks[i]}
		}
	}
	return Sample{Token: toks[len(toks)-1]}
}

func sampleFromTarget(targetAlts []Candidate, rng *rand.Rand) Sample {
	if len(targetAlts) == 0 {
		return Sample{}
	}
	sum := 0.0
	probs := make([]float64, len(targetAlts))
	for i, c := range targetAlts {
		p := math.Exp(c.Logprob)
		probs[i] = p
		sum += p
	}
	if sum <= 0 {
		return Sample{Token: targetAlts[0].Token}
	}
	u := rng.Float64() * sum
	cum := 0.0
	for i, p := range probs {
		cum += p
		if u <= cum {
			return Sample{Token: targetAlts[i].Token}
		}
	}
	return Sample{Token: targetAlts[len(targetAlts)-1].Token}
}
