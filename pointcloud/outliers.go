package pointcloud

import (
	"github.com/montanaflynn/stats"
)

// StatisticalOutlierRemoval keeps the points whose mean distance to their k nearest neighbors
// is below the global mean of that distance plus stdRatio standard deviations. Clouds with no
// more than k points are returned unchanged.
func (p *Processor) StatisticalOutlierRemoval(pc *PointCloud, k int, stdRatio float64) *PointCloud {
	if k <= 0 || pc.NumPoints() <= k {
		return pc
	}
	index := newKDIndex(pc.Points)
	meanDists := make([]float64, pc.NumPoints())
	var buf []neighbor
	for i, pt := range pc.Points {
		buf = index.nearest(pt, k+1, buf)
		sum, used, skippedSelf := 0.0, 0, false
		for _, n := range buf {
			if n.idx == i && !skippedSelf {
				skippedSelf = true
				continue
			}
			if used == k {
				break
			}
			sum += n.dist
			used++
		}
		if used > 0 {
			meanDists[i] = sum / float64(used)
		}
	}

	globalMean, err := stats.Mean(meanDists)
	if err != nil {
		return pc
	}
	globalStd, err := stats.StandardDeviation(meanDists)
	if err != nil {
		return pc
	}
	threshold := globalMean + stdRatio*globalStd

	keep := make([]bool, len(meanDists))
	for i, d := range meanDists {
		// Points on a perfectly regular grid all sit exactly at the mean.
		keep[i] = d < threshold || d == globalMean
	}
	out := pc.Select(keep)
	p.logger.Debugw("statistical outlier removal", "before", pc.NumPoints(), "after", out.NumPoints())
	return out
}

// RadiusOutlierRemoval keeps the points that have at least minNeighbors other points within
// radius. Clouds with fewer than minNeighbors points are returned unchanged.
func (p *Processor) RadiusOutlierRemoval(pc *PointCloud, radius float64, minNeighbors int) *PointCloud {
	if pc.NumPoints() < minNeighbors {
		return pc
	}
	index := newKDIndex(pc.Points)
	keep := make([]bool, pc.NumPoints())
	var buf []neighbor
	for i, pt := range pc.Points {
		buf = index.within(pt, radius, buf)
		// the count includes the point itself
		keep[i] = len(buf) >= minNeighbors+1
	}
	out := pc.Select(keep)
	p.logger.Debugw("radius outlier removal", "before", pc.NumPoints(), "after", out.NumPoints())
	return out
}
