package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	for _, logits := range [][]float32{
		{1, 2, 3},
		{-1000, 0, 1000},
		{88, 89, 90, 91},
		{0},
	} {
		probs := Softmax(logits)
		var sum float64
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "%v", logits)
	}
	assert.Nil(t, Softmax(nil))
}

func TestTop(t *testing.T) {
	idx, p := Top(Softmax([]float32{0.1, 5, 0.3}))
	assert.Equal(t, 1, idx)
	assert.Greater(t, p, 0.9)
	assert.LessOrEqual(t, p, 1.0)

	idx, p = Top([]float64{0.25, 0.25, 0.25, 0.25})
	assert.Equal(t, 0, idx)
	assert.InDelta(t, 0.25, p, 1e-12)

	idx, p = Top(nil)
	assert.Equal(t, 0, idx)
	assert.Zero(t, p)
}
