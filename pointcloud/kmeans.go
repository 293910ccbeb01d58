package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
)

// kmeansPoint lets a cloud point take part in a k-means partition while remembering where it
// came from.
type kmeansPoint struct {
	pos r3.Vector
	idx int
}

func (kp kmeansPoint) Coordinates() clusters.Coordinates {
	return clusters.Coordinates{kp.pos.X, kp.pos.Y, kp.pos.Z}
}

func (kp kmeansPoint) Distance(c clusters.Coordinates) float64 {
	return kp.pos.Distance(r3.Vector{X: c[0], Y: c[1], Z: c[2]})
}

// ClusterObjectsKMeans partitions the cloud into k clusters. Unlike DBSCAN every point is
// assigned, so it is only useful once the number of objects is known.
func (p *Processor) ClusterObjectsKMeans(pc *PointCloud, k int) ([]*Cluster, error) {
	if k <= 0 {
		return nil, errors.Errorf("k must be positive, got %d", k)
	}
	if pc.NumPoints() < k {
		return nil, errors.Wrapf(ErrInsufficientPoints, "cannot make %d clusters from %d points", k, pc.NumPoints())
	}
	var observations clusters.Observations
	for i, pt := range pc.Points {
		observations = append(observations, kmeansPoint{pos: pt, idx: i})
	}

	km := kmeans.New()
	partition, err := km.Partition(observations, k)
	if err != nil {
		return nil, errors.Wrap(err, "k-means partition failed")
	}

	out := make([]*Cluster, 0, len(partition))
	for _, c := range partition {
		if len(c.Observations) == 0 {
			continue
		}
		indices := make([]int, 0, len(c.Observations))
		for _, o := range c.Observations {
			indices = append(indices, o.(kmeansPoint).idx)
		}
		out = append(out, clusterFromIndices(pc, len(out), indices))
	}
	p.logger.Debugw("k-means", "k", k, "clusters", len(out))
	return out, nil
}
