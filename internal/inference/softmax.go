package inference

import "math"

// Softmax converts raw scores into a probability distribution. The max is
// subtracted first so large logits do not overflow.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Top returns the index and value of the largest probability. Ties go to the
// lowest index.
func Top(probs []float64) (int, float64) {
	idx, best := 0, math.Inf(-1)
	for i, p := range probs {
		if p > best {
			idx, best = i, p
		}
	}
	if best < 0 {
		return idx, 0
	}
	return idx, math.Min(best, 1)
}
