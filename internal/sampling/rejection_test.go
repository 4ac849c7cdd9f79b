package sampling

import (
	"math"
	"math/rand"
	"testing"
)

func TestAllAccepted(t *testing.T) {
	draft := []DraftPosition{
		{Token: "a", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "a", Logprob: math.Log(0.9)}}},
		{Token: "b", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "b", Logprob: math.Log(0.9)}}},
	}
	target := []TargetPosition{
		{Alternatives: []Candidate{{Token: "a", Logprob: math.Log(0.95)}}},
		{Alternatives: []Candidate{{Token: "b", Logprob: math.Log(0.95)}}},
	}
	rng := rand.New(rand.NewSource(1))
	v := Run(draft, target, rng)
	if v.AcceptedCount != 2 {
		t.Fatalf("expected all 2 accepted, got %d", v.AcceptedCount)
	}
	if v.ResampleToken != nil {
		t.Error("expected no resample token when all accepted")
	}
	for _, o := range v.Outcomes {
		if o != OutcomeAccepted {
			t.Errorf("expected all outcomes accepted, got %v", v.Outcomes)
		}
	}
}

func TestProbabilisticRejectionWithResample(t *testing.T) {
	draft := []DraftPosition{
		{Token: "twenty", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "twenty", Logprob: math.Log(0.9)}}},
		{Token: "tfone", Logprob: math.Log(0.5), Alternatives: []Candidate{{Token: "tfone", Logprob: math.Log(0.5)}}},
		{Token: "tftwo", Logprob: math.Log(0.5), Alternatives: []Candidate{{Token: "tftwo", Logprob: math.Log(0.5)}}},
	}
	target := []TargetPosition{
		{Alternatives: []Candidate{{Token: "twenty", Logprob: math.Log(0.1)}, {Token: "ninetynine", Logprob: math.Log(0.8)}}},
		{Alternatives: []Candidate{{Token: "tfone", Logprob: math.Log(0.5)}}},
		{Alternatives: []Candidate{{Token: "tftwo", Logprob: math.Log(0.5)}}},
	}

	// run many times: with p/q = 0.111, rejection should happen with high
	// probability (it is NOT certain), so scan for a seed that rejects at 0
	// to confirm prefix-skip behavior when it does.
	var found bool
	for seed := int64(0); seed < 200 && !found; seed++ {
		rng := rand.New(rand.NewSource(seed))
		v := Run(draft, target, rng)
		if v.Outcomes[0] == OutcomeRejected {
			found = true
			if v.Outcomes[1] != OutcomeSkipped || v.Outcomes[2] != OutcomeSkipped {
				t.Errorf("expected positions after rejection to be skipped, got %v", v.Outcomes)
			}
			if v.ResampleToken == nil {
				t.Error("expected a resample token on rejection")
			}
		}
	}
	if !found {
		t.Fatal("expected at least one seed to reject position 0 given p/q=0.111")
	}
}

func TestDraftTokenAbsentFromTargetTopNForcesRejection(t *testing.T) {
	draft := []DraftPosition{
		{Token: "rare", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "rare", Logprob: math.Log(0.9)}}},
	}
	target := []TargetPosition{
		{Alternatives: []Candidate{{Token: "one", Logprob: math.Log(0.5)}, {Token: "two", Logprob: math.Log(0.3)}}},
	}
	rng := rand.New(rand.NewSource(42))
	v := Run(draft, target, rng)
	if v.Outcomes[0] != OutcomeRejected {
		t.Fatalf("expected forced rejection when draft token absent from target top-N, got %v", v.Outcomes[0])
	}
}

func TestDistributionPreservation(t *testing.T) {
	// q heavily favors token A; p favors token B. Each trial drafts a token
	// drawn from q, as the guarantee requires. Over many trials the
	// first-non-accepted output should approximate p, not q or a mix.
	q := map[string]float64{"A": 0.8, "B": 0.2}
	p := map[string]float64{"A": 0.1, "B": 0.9}

	qAlts := []Candidate{{Token: "A", Logprob: math.Log(q["A"])}, {Token: "B", Logprob: math.Log(q["B"])}}
	pAlts := []Candidate{{Token: "A", Logprob: math.Log(p["A"])}, {Token: "B", Logprob: math.Log(p["B"])}}

	const n = 20000
	counts := map[string]int{}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < n; i++ {
		tok := "A"
		if rng.Float64() >= q["A"] {
			tok = "B"
		}
		draft := []DraftPosition{{Token: tok, Logprob: math.Log(q[tok]), Alternatives: qAlts}}
		target := []TargetPosition{{Alternatives: pAlts}}
		v := Run(draft, target, rng)
		var out string
		if v.Outcomes[0] == OutcomeAccepted {
			out = tok
		} else {
			out = v.ResampleToken.Token
		}
		counts[out]++
	}

	empPA := float64(counts["A"]) / n
	empPB := float64(counts["B"]) / n
	tv := 0.5 * (math.Abs(empPA-p["A"]) + math.Abs(empPB-p["B"]))
	if tv > 0.02 {
		t.Errorf("total variation distance %v exceeds 0.02 (empirical A=%v B=%v)", tv, empPA, empPB)
	}
}

func TestPrefixAcceptanceInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 500; trial++ {
		k := 5
		draft := make([]DraftPosition, k)
		target := make([]TargetPosition, k)
		for i := 0; i < k; i++ {
			tok := string(rune('a' + i))
			draft[i] = DraftPosition{Token: tok, Logprob: math.Log(0.5), Alternatives: []Candidate{{Token: tok, Logprob: math.Log(0.5)}}}
			target[i] = TargetPosition{Alternatives: []Candidate{{Token: tok, Logprob: math.Log(0.5 + 0.1*float64(i%3-1))}}}
		}
		v := Run(draft, target, rng)
		rejectedAt := -1
		for i, o := range v.Outcomes {
			if o == OutcomeRejected {
				rejectedAt = i
				break
			}
		}
		if rejectedAt == -1 {
			continue
		}
		for j := rejectedAt + 1; j < k; j++ {
			if v.Outcomes[j] != OutcomeSkipped {
				t.Fatalf("trial %d: position %d after rejection at %d was %v, want skipped", trial, j, rejectedAt, v.Outcomes[j])
			}
		}
	}
}

func TestResampleFromComplementExcludesSampledToken(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alts := []Candidate{
		{Token: "a", Logprob: math.Log(0.6)},
		{Token: "b", Logprob: math.Log(0.3)},
		{Token: "c", Logprob: math.Log(0.1)},
	}
	for trial := 0; trial < 200; trial++ {
		s := ResampleFromComplement(alts, "a", rng)
		if s.Token == "a" {
			t.Fatalf("trial %d: resampled the already-sampled token %q", trial, s.Token)
		}
		if s.Token != "b" && s.Token != "c" {
			t.Fatalf("trial %d: unexpected resampled token %q", trial, s.Token)
		}
	}
}

func TestResampleFromComplementEmptyWhenOnlyCandidateExcluded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alts := []Candidate{{Token: "only", Logprob: math.Log(1.0)}}
	s := ResampleFromComplement(alts, "only", rng)
	if s.Token != "" {
		t.Errorf("expected empty Sample when the complement is empty, got %q", s.Token)
	}
}

func TestRunExtendsShortVerdictWhenTargetTruncates(t *testing.T) {
	// Target returns only 2 positions for a K=4 draft: effectiveK=2 is a
	// prefix-accepted run, so the round must still produce K outcomes, with
	// positions [effectiveK, k) synthesized as a forced rejection followed
	// by skipped tail entries, and a resample drawn from the draft's own
	// complement at the truncation boundary (internal/speculator.rejectionSample
	// drives this; this test exercises the Run()+ResampleFromComplement
	// building blocks it composes).
	draft := []DraftPosition{
		{Token: "a", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "a", Logprob: math.Log(0.9)}, {Token: "z", Logprob: math.Log(0.1)}}},
		{Token: "b", Logprob: math.Log(0.9), Alternatives: []Candidate{{Token: "b", Logprob: math.Log(0.9)}, {Token: "y", Logprob: math.Log(0.1)}}},
	}
	target := []TargetPosition{
		{Alternatives: []Candidate{{Token: "a", Logprob: math.Log(0.95)}}},
		{Alternatives: []Candidate{{Token: "b", Logprob: math.Log(0.95)}}},
	}
	rng := rand.New(rand.NewSource(3))
	v := Run(draft, target, rng)
	if v.AcceptedCount != 2 {
		t.Fatalf("expected both truncated-but-available positions accepted, got %d", v.AcceptedCount)
	}

	// simulate the speculator's extension for a K=4 draft with only these
	// 2 available target positions: the 3rd draft token supplies the
	// complement to resample from at the truncation boundary.
	k := 4
	effectiveK := len(target)
	thirdDraftAlts := []Candidate{{Token: "c", Logprob: math.Log(0.7)}, {Token: "x", Logprob: math.Log(0.3)}}
	if v.AcceptedCount == effectiveK && effectiveK < k {
		sample := ResampleFromComplement(thirdDraftAlts, "c", rng)
		v.ResampleToken = &sample
		v.Outcomes = append(v.Outcomes, OutcomeRejected)
		for j := effectiveK + 1; j < k; j++ {
			v.Outcomes = append(v.Outcomes, OutcomeSkipped)
		}
	}
	if len(v.Outcomes) != k {
		t.Fatalf("expected %d outcomes after extension, got %d", k, len(v.Outcomes))
	}
	if v.Outcomes[effectiveK] != OutcomeRejected {
		t.Errorf("expected forced rejection at position %d, got %v", effectiveK, v.Outcomes[effectiveK])
	}
	for j := effectiveK + 1; j < k; j++ {
		if v.Outcomes[j] != OutcomeSkipped {
			t.Errorf("expected skipped at position %d, got %v", j, v.Outcomes[j])
		}
	}
	if v.ResampleToken == nil || v.ResampleToken.Token != "x" {
		t.Errorf("expected resample token %q, got %+v", "x", v.ResampleToken)
	}
}
