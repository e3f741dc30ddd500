package unflat

import (
	"math/bits"

	"unflat/internal/mcode"
)

// Entropy returns the fraction of set bits across values, each counted as
// size bytes wide. No values, or a zero size, yields 0.
func Entropy(values []uint64, size int) float64 {
	total := len(values) * size * 8
	if total == 0 {
		return 0
	}
	ones := 0
	for _, v := range values {
		ones += bits.OnesCount64(mcode.Truncate(v, size))
	}
	return float64(ones) / float64(total)
}
