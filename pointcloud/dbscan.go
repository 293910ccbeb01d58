package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// gridIndex buckets points into cubes of side eps so that a radius query only has to look at
// the 27 cells around the query point.
type gridIndex struct {
	cellSize float64
	cells    map[voxelKey][]int
}

func newGridIndex(pts []r3.Vector, cellSize float64) *gridIndex {
	g := &gridIndex{cellSize: cellSize, cells: make(map[voxelKey][]int)}
	for i, p := range pts {
		key := newVoxelKey(p, cellSize)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

// regionQuery returns the indices of all points within eps of pts[idx], itself included.
func (g *gridIndex) regionQuery(pts []r3.Vector, idx int, eps float64) []int {
	p := pts[idx]
	eps2 := eps * eps
	base := newVoxelKey(p, g.cellSize)

	var neighbors []int
	for di := int64(-1); di <= 1; di++ {
		for dj := int64(-1); dj <= 1; dj++ {
			for dk := int64(-1); dk <= 1; dk++ {
				key := voxelKey{i: base.i + di, j: base.j + dj, k: base.k + dk}
				for _, candidate := range g.cells[key] {
					if pts[candidate].Sub(p).Norm2() <= eps2 {
						neighbors = append(neighbors, candidate)
					}
				}
			}
		}
	}
	return neighbors
}

// DBSCANLabels runs DBSCAN and returns one label per point: -1 for noise and 1..n for the
// clusters in discovery order, along with n.
func DBSCANLabels(pts []r3.Vector, eps float64, minSamples int) ([]int, int) {
	labels := make([]int, len(pts))
	if len(pts) == 0 || eps <= 0 || math.IsNaN(eps) {
		return labels, 0
	}
	index := newGridIndex(pts, eps)

	clusterID := 0
	for i := range pts {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbors := index.regionQuery(pts, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = labelNoise
			continue
		}
		clusterID++
		expandCluster(pts, index, labels, i, neighbors, clusterID, eps, minSamples)
	}
	return labels, clusterID
}

func expandCluster(pts []r3.Vector, index *gridIndex, labels []int,
	seed int, queue []int, clusterID int, eps float64, minSamples int,
) {
	labels[seed] = clusterID
	for j := 0; j < len(queue); j++ {
		idx := queue[j]
		if labels[idx] == labelNoise {
			// border point
			labels[idx] = clusterID
		}
		if labels[idx] != labelUnvisited {
			continue
		}
		labels[idx] = clusterID
		more := index.regionQuery(pts, idx, eps)
		if len(more) >= minSamples {
			queue = append(queue, more...)
		}
	}
}

// ClusterObjectsDBSCAN groups the cloud into density connected clusters. Noise points are
// dropped, and so are clusters with fewer than minClusterSize points. Labels of the returned
// clusters are renumbered from 0.
func (p *Processor) ClusterObjectsDBSCAN(pc *PointCloud, eps float64, minSamples, minClusterSize int) []*Cluster {
	if pc.NumPoints() == 0 {
		return nil
	}
	labels, n := DBSCANLabels(pc.Points, eps, minSamples)

	members := make([][]int, n+1)
	noise := 0
	for i, l := range labels {
		if l == labelNoise {
			noise++
			continue
		}
		members[l] = append(members[l], i)
	}

	var clusters []*Cluster
	for l := 1; l <= n; l++ {
		if len(members[l]) < minClusterSize {
			continue
		}
		clusters = append(clusters, clusterFromIndices(pc, len(clusters), members[l]))
	}
	p.logger.Debugw("dbscan", "eps", eps, "min_samples", minSamples,
		"clusters", n, "kept", len(clusters), "noise", noise)
	return clusters
}
