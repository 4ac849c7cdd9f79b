// Package speculator implements the orchestrator: the state machine that
// drives the draft model for K tokens, assembles a verification request to
// the target model, runs rejection sampling, updates the growing context,
// streams events to a sink, and maintains rolling performance metrics.
package speculator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"speculatoviz/internal/draftmodel"
	"speculatoviz/internal/errs"
	"speculatoviz/internal/events"
	"speculatoviz/internal/eventsink"
	"speculatoviz/internal/logger"
	"speculatoviz/internal/metrics"
	"speculatoviz/internal/sampling"
	"speculatoviz/internal/targetmodel"
)

// Config bounds one generation's request parameters, validated at Run entry
// per the precondition 1<=k<=16, 0<=temperature<=2, 1<=max_tokens<=4096.
type Config struct {
	K             int
	Temperature   float64
	MaxTokens     int
	EOSTokenIDs   map[int]struct{}
	VerifyTimeout time.Duration
}

func (c Config) Validate() error {
	if c.K < 1 || c.K > 16 {
		return fmt.Errorf("k must be in [1,16], got %d", c.K)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0,2], got %v", c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 4096 {
		return fmt.Errorf("max_tokens must be in [1,4096], got %d", c.MaxTokens)
	}
	return nil
}

// ContextState is the mutable state owned by the Speculator for one
// generation; it is created at generation start and mutated only on the
// completion of each round.
type ContextState struct {
	PromptText        string
	ContextTokenIDs   []int
	GeneratedTokenIDs []int
	GeneratedText     string
	CurrentRound      int
	TotalCommitted    int
}

// Speculator drives the draft -> verify -> rejection-sample -> commit loop
// for one or more concurrent generations sharing a single draft model.
type Speculator struct {
	Draft         draftmodel.Model
	Target        targetmodel.Model
	MetricsWindow int

	// Rand supplies the uniform draws the rejection sampler consumes. Tests
	// inject a seeded source for determinism; a nil Rand is seeded from the
	// wall clock at Run time.
	Rand *rand.Rand

	// draftMu serializes access to Draft: its KV cache is a shared,
	// mutable, per-process resource (spec §5), the same single-holder-lock
	// discipline the teacher's EngineAdapter applies around its engine map.
	draftMu sync.Mutex
}

// New constructs a Speculator with the given rolling metrics window size.
func New(draft draftmodel.Model, target targetmodel.Model, metricsWindow int) *Speculator {
	return &Speculator{Draft: draft, Target: target, MetricsWindow: metricsWindow}
}

// Run executes one full generation, emitting events to sink in strict causal
// order, and returns when the generation terminates. A non-nil error means a
// fatal condition was hit; an Error event has already been emitted in that
// case, so callers need not emit one themselves.
func (s *Speculator) Run(ctx context.Context, prompt string, cfg Config, sink eventsink.Sink) error {
	if err := cfg.Validate(); err != nil {
		_ = sink.Emit(ctx, events.Error{Message: err.Error()})
		return errs.New(errs.Precondition, err)
	}
	if prompt == "" {
		err := fmt.Errorf("prompt must not be empty")
		_ = sink.Emit(ctx, events.Error{Message: err.Error()})
		return errs.New(errs.Precondition, err)
	}

	metrics.ActiveGenerations.Inc()
	defer metrics.ActiveGenerations.Dec()

	s.draftMu.Lock()
	_, contextIDs, err := s.Draft.ApplyChatTemplate(ctx, prompt)
	s.draftMu.Unlock()
	if err != nil {
		round := 0
		s.emitFatal(ctx, sink, &round, fmt.Errorf("apply chat template: %w", err))
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		return errs.New(errs.LocalInference, err)
	}

	state := &ContextState{PromptText: prompt, ContextTokenIDs: contextIDs}
	tracker := NewMetricsTracker(s.MetricsWindow)
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(randSeed()))
	}

	for {
		select {
		case <-ctx.Done():
			s.emitCanceled(ctx, sink, state, tracker)
			metrics.GenerationsTotal.WithLabelValues("canceled").Inc()
			return nil
		default:
		}

		stats, stop, err := s.runRound(ctx, state, cfg, tracker, rng, sink)
		if err != nil {
			// a classified, non-fatal error is exactly Canceled: the caller
			// asked to stop, which ends the generation cleanly rather than
			// with an Error event. Everything else - classified-fatal or
			// unclassified - terminates the generation as an error.
			if class, ok := errs.Classify(err); ok && !class.IsFatal() {
				s.emitCanceled(ctx, sink, state, tracker)
				metrics.GenerationsTotal.WithLabelValues("canceled").Inc()
				return nil
			}
			r := state.CurrentRound
			s.emitFatal(ctx, sink, &r, err)
			metrics.GenerationsTotal.WithLabelValues("error").Inc()
			return err
		}
		tracker.RecordRound(stats)
		metrics.ObserveRoundStats(stats.Total, stats.Accepted, stats.TokensProduced, stats.DraftLatencyMs, stats.VerifyLatencyMs)
		s.setRollingGauges(tracker)

		if err := sink.Emit(ctx, s.metricsEvent(state, tracker, stats)); err != nil {
			s.emitCanceled(ctx, sink, state, tracker)
			metrics.GenerationsTotal.WithLabelValues("canceled").Inc()
			return nil
		}

		if stop {
			break
		}
	}

	metrics.GenerationsTotal.WithLabelValues("done").Inc()
	_ = sink.Emit(ctx, events.Done{
		TotalTokens:     tracker.TotalTokens(),
		TotalRounds:     tracker.TotalRounds(),
		FinalAcceptance: tracker.OverallAcceptanceRate(),
		AverageSpeedup:  tracker.Speedup(),
		GeneratedText:   state.GeneratedText,
	})
	return nil
}

func (s *Speculator) setRollingGauges(tracker *MetricsTracker) {
	metrics.AcceptanceRate.Set(tracker.AcceptanceRate())
	metrics.EffectiveTPS.Set(tracker.EffectiveTPS())
	metrics.BaselineTPS.Set(tracker.BaselineTPS())
	metrics.Speedup.Set(tracker.Speedup())
}

func (s *Speculator) metricsEvent(state *ContextState, tracker *MetricsTracker, stats RoundStats) events.Metrics {
	return events.Metrics{
		Round:                state.CurrentRound,
		AcceptanceRate:       tracker.AcceptanceRate(),
		RoundAccepted:        stats.Accepted,
		RoundTotal:           stats.Total,
		EffectiveTPS:         tracker.EffectiveTPS(),
		BaselineTPS:          tracker.BaselineTPS(),
		Speedup:              tracker.Speedup(),
		DraftLatencyMs:       tracker.AvgDraftLatencyMs(),
		VerifyLatencyMs:      tracker.AvgVerifyLatencyMs(),
		TotalTokensGenerated: tracker.TotalTokens(),
	}
}

// runRound executes one draft -> verify -> rejection-sample -> commit cycle.
// It returns the round's stats, whether a stop condition was hit, and any
// fatal error (already partially communicated via emitted events where the
// spec allows it).
func (s *Speculator) runRound(ctx context.Context, state *ContextState, cfg Config, tracker *MetricsTracker, rng *rand.Rand, sink eventsink.Sink) (RoundStats, bool, error) {
	state.CurrentRound++
	round := state.CurrentRound
	roundStart := time.Now()

	fullContext := make([]int, 0, len(state.ContextTokenIDs)+len(state.GeneratedTokenIDs))
	fullContext = append(fullContext, state.ContextTokenIDs...)
	fullContext = append(fullContext, state.GeneratedTokenIDs...)

	roundLog := logger.Log.WithRound(round)
	roundLog.Info("drafting", "k", cfg.K, "context_len", len(fullContext))

	s.draftMu.Lock()
	draftStart := time.Now()
	draftTokens, err := s.Draft.Draft(ctx, fullContext, cfg.K, cfg.Temperature)
	draftLatency := time.Since(draftStart)
	s.draftMu.Unlock()
	if err != nil {
		return RoundStats{}, false, errs.New(errs.LocalInference, fmt.Errorf("draft round %d: %w", round, err))
	}

	for i, dt := range draftTokens {
		top := make([]events.TopToken, len(dt.Alternatives))
		for j, a := range dt.Alternatives {
			top[j] = events.TopToken{Token: a.Token, Logprob: a.Logprob}
		}
		if err := sink.Emit(ctx, events.DraftToken{
			Round:       round,
			Position:    i,
			Token:       dt.Token,
			TokenID:     dt.TokenID,
			Logprob:     dt.Logprob,
			Entropy:     dt.Entropy,
			TopTokens:   top,
			DraftTimeMs: float64(draftLatency.Milliseconds()),
		}); err != nil {
			return RoundStats{}, false, errs.New(errs.Canceled, err)
		}
	}

	verifyCtx := ctx
	var cancel context.CancelFunc
	if cfg.VerifyTimeout > 0 {
		verifyCtx, cancel = context.WithTimeout(ctx, cfg.VerifyTimeout)
		defer cancel()
	}
	result, err := s.Target.Verify(verifyCtx, state.PromptText, state.GeneratedText, cfg.K+1, cfg.Temperature)
	if err != nil {
		if verifyCtx.Err() == context.Canceled {
			return RoundStats{}, false, errs.New(errs.Canceled, err)
		}
		return RoundStats{}, false, err
	}

	tokensThisRound, idsThisRound, verdict, verifyEvents, err := s.rejectionSample(ctx, draftTokens, result, round, rng)
	if err != nil {
		return RoundStats{}, false, err
	}
	for _, ev := range verifyEvents {
		ev.VerifyTimeMs = result.LatencyMs
		if err := sink.Emit(ctx, ev); err != nil {
			return RoundStats{}, false, errs.New(errs.Canceled, err)
		}
	}

	state.GeneratedTokenIDs = append(state.GeneratedTokenIDs, idsThisRound...)
	s.draftMu.Lock()
	decoded, err := s.Draft.Decode(ctx, state.GeneratedTokenIDs)
	s.draftMu.Unlock()
	if err != nil {
		return RoundStats{}, false, errs.New(errs.LocalInference, fmt.Errorf("decode round %d: %w", round, err))
	}
	state.GeneratedText = decoded
	state.TotalCommitted = len(state.GeneratedTokenIDs)

	roundWall := time.Since(roundStart)
	producedCount := len(tokensThisRound)
	stats := RoundStats{
		Accepted:        verdict.AcceptedCount,
		Total:           cfg.K,
		TokensProduced:  producedCount,
		DraftLatencyMs:  float64(draftLatency.Milliseconds()),
		VerifyLatencyMs: result.LatencyMs,
		RoundWallMs:     float64(roundWall.Milliseconds()),
		K:               cfg.K,
	}

	stop := false
	for _, id := range idsThisRound {
		if _, ok := cfg.EOSTokenIDs[id]; ok {
			stop = true
			break
		}
	}
	if !stop && state.TotalCommitted >= cfg.MaxTokens {
		stop = true
	}

	roundLog.Debug("round committed", "accepted", verdict.AcceptedCount, "produced", producedCount, "wall_ms", stats.RoundWallMs, "stop", stop)

	return stats, stop, nil
}

// rejectionSample runs the rejection sampler over the aligned draft/target
// positions, extracts the bonus token when all K draft tokens were accepted
// and a K+1-th target position is available, and re-tokenizes any resampled
// or bonus token's text through the draft model's own tokenizer before it is
// appended to the committed id sequence.
func (s *Speculator) rejectionSample(ctx context.Context, draftTokens []draftmodel.Token, result targetmodel.VerificationResult, round int, rng *rand.Rand) ([]string, []int, sampling.Verdict, []events.VerifyResult, error) {
	k := len(draftTokens)
	effectiveK := k
	if len(result.Positions) < effectiveK {
		effectiveK = len(result.Positions)
	}

	draftPositions := make([]sampling.DraftPosition, effectiveK)
	targetPositions := make([]sampling.TargetPosition, effectiveK)
	for i := 0; i < effectiveK; i++ {
		draftPositions[i] = sampling.DraftPosition{
			TokenID:      draftTokens[i].TokenID,
			Token:        draftTokens[i].Token,
			Logprob:      draftTokens[i].Logprob,
			Alternatives: draftTokens[i].Alternatives,
		}
		targetPositions[i] = sampling.TargetPosition{
			Token:        result.Positions[i].Token,
			Logprob:      result.Positions[i].Logprob,
			Alternatives: result.Positions[i].Alternatives,
		}
	}

	verdict := sampling.Run(draftPositions, targetPositions, rng)

	// extend a short verdict to cover the full K positions when the target
	// truncated its response: the position immediately after the available
	// data is a forced rejection, resampled from the draft complement.
	if verdict.AcceptedCount == effectiveK && effectiveK < k {
		sample := sampling.ResampleFromComplement(draftTokens[effectiveK].Alternatives, draftTokens[effectiveK].Token, rng)
		verdict.ResampleToken = &sample
		verdict.Outcomes = append(verdict.Outcomes, sampling.OutcomeRejected)
		for j := effectiveK + 1; j < k; j++ {
			verdict.Outcomes = append(verdict.Outcomes, sampling.OutcomeSkipped)
		}
	}

	var tokensThisRound []string
	var idsThisRound []int
	var out []events.VerifyResult

	for i := 0; i < verdict.AcceptedCount; i++ {
		tokensThisRound = append(tokensThisRound, draftTokens[i].Token)
		idsThisRound = append(idsThisRound, draftTokens[i].TokenID)

		var targetEntropy *float64
		var targetTop []events.TopToken
		if i < len(result.Positions) {
			e := result.Positions[i].Entropy
			targetEntropy = &e
			targetTop = topN(result.Positions[i].Alternatives, 5)
		}
		out = append(out, events.VerifyResult{
			Round:           round,
			Position:        i,
			Token:           draftTokens[i].Token,
			TokenID:         draftTokens[i].TokenID,
			Status:          events.StatusAccepted,
			DraftLogprob:    draftTokens[i].Logprob,
			TargetLogprob:   verdict.TargetLogprobs[i],
			AcceptanceProb:  verdict.AcceptanceProbs[i],
			TargetEntropy:   targetEntropy,
			TargetTopTokens: targetTop,
		})
	}

	if verdict.AcceptedCount < k {
		rejectedPos := verdict.AcceptedCount
		var targetEntropy *float64
		var targetTop []events.TopToken
		if rejectedPos < len(result.Positions) {
			e := result.Positions[rejectedPos].Entropy
			targetEntropy = &e
			targetTop = topN(result.Positions[rejectedPos].Alternatives, 5)
		}
		// the truncation extension (effectiveK < k) appends only to
		// verdict.Outcomes, not to TargetLogprobs/AcceptanceProbs, since Run
		// never saw a position past effectiveK: there is no target
		// evaluation to report for it.
		var targetLogprob, acceptanceProb *float64
		if rejectedPos < len(verdict.TargetLogprobs) {
			targetLogprob = verdict.TargetLogprobs[rejectedPos]
			acceptanceProb = verdict.AcceptanceProbs[rejectedPos]
		}
		out = append(out, events.VerifyResult{
			Round:           round,
			Position:        rejectedPos,
			Token:           draftTokens[rejectedPos].Token,
			TokenID:         draftTokens[rejectedPos].TokenID,
			Status:          events.StatusRejected,
			DraftLogprob:    draftTokens[rejectedPos].Logprob,
			TargetLogprob:   targetLogprob,
			AcceptanceProb:  acceptanceProb,
			TargetEntropy:   targetEntropy,
			TargetTopTokens: targetTop,
		})

		resampleText := ""
		if verdict.ResampleToken != nil {
			resampleText = verdict.ResampleToken.Token
		}
		resampledIDs, err := s.tokenizeProduced(ctx, resampleText)
		if err != nil {
			return nil, nil, verdict, nil, errs.New(errs.LocalInference, fmt.Errorf("tokenize resampled token: %w", err))
		}
		tokensThisRound = append(tokensThisRound, resampleText)
		idsThisRound = append(idsThisRound, resampledIDs...)

		zero := 0.0
		out = append(out, events.VerifyResult{
			Round:          round,
			Position:       rejectedPos,
			Token:          resampleText,
			TokenID:        0,
			Status:         events.StatusResampled,
			DraftLogprob:   draftTokens[rejectedPos].Logprob,
			AcceptanceProb: &zero,
		})
		return tokensThisRound, idsThisRound, verdict, out, nil
	}

	// all K accepted: extract the bonus token if a K+1-th position exists.
	if k < len(result.Positions) {
		bonusPos := result.Positions[k]
		bonusIDs, err := s.tokenizeProduced(ctx, bonusPos.Token)
		if err != nil {
			return nil, nil, verdict, nil, errs.New(errs.LocalInference, fmt.Errorf("tokenize bonus token: %w", err))
		}
		tokensThisRound = append(tokensThisRound, bonusPos.Token)
		idsThisRound = append(idsThisRound, bonusIDs...)

		one := 1.0
		out = append(out, events.VerifyResult{
			Round:          round,
			Position:       k,
			Token:          bonusPos.Token,
			TokenID:        0,
			Status:         events.StatusBonus,
			DraftLogprob:   0,
			AcceptanceProb: &one,
		})
	}

	return tokensThisRound, idsThisRound, verdict, out, nil
}

// tokenizeProduced re-tokenizes a resampled or bonus token's text through the
// draft model's own tokenizer: the text came from the target, whose
// vocabulary has no relation to the draft's, so it cannot be appended to
// generated_token_ids under any id but one the draft model itself assigns.
func (s *Speculator) tokenizeProduced(ctx context.Context, text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	return s.Draft.Tokenize(ctx, text)
}

func topN(alts []sampling.Candidate, n int) []events.TopToken {
	if len(alts) > n {
		alts = alts[:n]
	}
	out := make([]events.TopToken, len(alts))
	for i, a := range alts {
		out[i] = events.TopToken{Token: a.Token, Logprob: a.Logprob}
	}
	return out
}

func (s *Speculator) emitFatal(ctx context.Context, sink eventsink.Sink, round *int, err error) {
	logger.Log.WithRound(*round).Error("speculator fatal error", "error", err.Error())
	_ = sink.Emit(ctx, events.Error{Message: err.Error(), Round: round})
}

func (s *Speculator) emitCanceled(ctx context.Context, sink eventsink.Sink, state *ContextState, tracker *MetricsTracker) {
	_ = sink.Emit(context.Background(), events.Done{
		TotalTokens:     tracker.TotalTokens(),
		TotalRounds:     tracker.TotalRounds(),
		FinalAcceptance: tracker.OverallAcceptanceRate(),
		AverageSpeedup:  tracker.Speedup(),
		GeneratedText:   state.GeneratedText,
	})
}

func randSeed() int64 {
	return time.Now().UnixNano()
}
