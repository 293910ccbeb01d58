package pointcloud

import (
	"math/rand"
	"sort"
)

// RandomDownsample keeps target points chosen uniformly without replacement, preserving their
// original order. Clouds already at or below target are returned unchanged.
func (p *Processor) RandomDownsample(pc *PointCloud, target int, rng *rand.Rand) *PointCloud {
	if target < 0 || pc.NumPoints() <= target {
		return pc
	}
	return pc.Subset(SampleIndices(pc.NumPoints(), target, rng))
}

// SampleIndices returns k sorted distinct indices drawn uniformly from [0, n).
func SampleIndices(n, k int, rng *rand.Rand) []int {
	rng = newRand(rng)
	indices := rng.Perm(n)[:k]
	sort.Ints(indices)
	return indices
}
