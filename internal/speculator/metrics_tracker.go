package speculator

// RoundStats is one round's timing and acceptance summary, per spec §3.
type RoundStats struct {
	Accepted        int
	Total           int // k_drafted
	TokensProduced  int // accepted, plus one for the bonus or resampled token
	DraftLatencyMs  float64
	VerifyLatencyMs float64
	RoundWallMs     float64
	K               int
}

// MetricsTracker holds the last W RoundStats in a fixed-capacity ring and
// recomputes the rolling derived values on every append, grounded on
// original_source's metrics.MetricsTracker.
type MetricsTracker struct {
	window        []RoundStats
	windowSize    int
	next          int
	filled        int
	totalTokens   int
	totalAccepted int
	totalDrafted  int
	totalRounds   int
}

// NewMetricsTracker constructs a tracker with a window of the given size;
// windowSize <= 0 is treated as 1.
func NewMetricsTracker(windowSize int) *MetricsTracker {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &MetricsTracker{
		window:     make([]RoundStats, windowSize),
		windowSize: windowSize,
	}
}

// RecordRound appends a round's stats, evicting the oldest if the window is full.
func (m *MetricsTracker) RecordRound(s RoundStats) {
	m.window[m.next] = s
	m.next = (m.next + 1) % m.windowSize
	if m.filled < m.windowSize {
		m.filled++
	}
	m.totalTokens += s.TokensProduced
	m.totalAccepted += s.Accepted
	m.totalDrafted += s.Total
	m.totalRounds++
}

func (m *MetricsTracker) windowed(f func(RoundStats) float64) float64 {
	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += f(m.window[i])
	}
	return sum
}

func (m *MetricsTracker) TotalTokens() int { return m.totalTokens }
func (m *MetricsTracker) TotalRounds() int { return m.totalRounds }

// AcceptanceRate is the windowed accepted/drafted ratio.
func (m *MetricsTracker) AcceptanceRate() float64 {
	drafted := m.windowed(func(r RoundStats) float64 { return float64(r.Total) })
	if drafted == 0 {
		return 0
	}
	accepted := m.windowed(func(r RoundStats) float64 { return float64(r.Accepted) })
	return accepted / drafted
}

// OverallAcceptanceRate is the lifetime accepted/drafted ratio, unaffected by
// the window eviction, for the final Done event.
func (m *MetricsTracker) OverallAcceptanceRate() float64 {
	if m.totalDrafted == 0 {
		return 0
	}
	return float64(m.totalAccepted) / float64(m.totalDrafted)
}

// EffectiveTPS is the windowed tokens/sec of the speculative pipeline.
func (m *MetricsTracker) EffectiveTPS() float64 {
	if m.filled == 0 {
		return 0
	}
	totalTimeS := m.windowed(func(r RoundStats) float64 { return r.RoundWallMs }) / 1000
	totalTokens := m.windowed(func(r RoundStats) float64 { return float64(r.TokensProduced) })
	if totalTimeS <= 0 {
		return 0
	}
	return totalTokens / totalTimeS
}

// BaselineTPS estimates the tokens/sec of pure autoregressive calls to the
// same target: each verify call checks k+1 positions in one request, so the
// per-token autoregressive cost is verify_latency_ms / (k+1).
func (m *MetricsTracker) BaselineTPS() float64 {
	if m.filled == 0 {
		return 0
	}
	totalARTimeMs := m.windowed(func(r RoundStats) float64 { return r.VerifyLatencyMs / float64(r.K+1) })
	if totalARTimeMs <= 0 {
		return 0
	}
	return (float64(m.filled) / totalARTimeMs) * 1000
}

// Speedup is effective_tps / baseline_tps, or 1.0 if baseline is undefined.
func (m *MetricsTracker) Speedup() float64 {
	baseline := m.BaselineTPS()
	if baseline <= 0 {
		return 1.0
	}
	return m.EffectiveTPS() / baseline
}

func (m *MetricsTracker) AvgDraftLatencyMs() float64 {
	if m.filled == 0 {
		return 0
	}
	return m.windowed(func(r RoundStats) float64 { return r.DraftLatencyMs }) / float64(m.filled)
}

func (m *MetricsTracker) AvgVerifyLatencyMs() float64 {
	if m.filled == 0 {
		return 0
	}
	return m.windowed(func(r RoundStats) float64 { return r.VerifyLatencyMs }) / float64(m.filled)
}
