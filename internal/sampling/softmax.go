package sampling

import "math"

// LogSoftmax normalizes raw logits into proper log-probabilities:
// logprob[v] = logit[v] - logsumexp(logit). Implementations that return raw
// logits must route through this before exposing values to the rest of the
// pipeline; rejection sampling's p/q math depends on it.
func LogSoftmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range logits {
		sum += math.Exp(v - max)
	}
	lse := max + math.Log(sum)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = v - lse
	}
	return out
}

// Entropy computes the Shannon entropy in nats of a distribution given as
// log-probabilities.
func Entropy(logprobs []float64) float64 {
	h := 0.0
	for _, lp := range logprobs {
		if math.IsInf(lp, -1) {
			continue
		}
		p := math.Exp(lp)
		if p <= 0 {
			continue
		}
		h -= p * lp
	}
	return h
}

// TopK returns the indices of the k largest entries of logprobs, descending.
func TopK(logprobs []float64, k int) []int {
	idx := make([]int, len(logprobs))
	for i := range idx {
		idx[i] = i
	}
	// simple partial selection sort; k is small (<=20ish) in practice.
	if k > len(idx) {
		k = len(idx)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(idx); j++ {
			if logprobs[idx[j]] > logprobs[idx[best]] {
				best = j
			}
		}
		idx[i], idx[best] = idx[best], idx[i]
	}
	return idx[:k]
}
