package pointcloud

import (
	"sync"

	"github.com/golang/geo/r3"
)

// Cluster is a labeled subset of a cloud, usually one candidate object on the table.
type Cluster struct {
	Points []r3.Vector
	Colors []Color
	Label  int

	centroidOnce sync.Once
	centroid     r3.Vector
	boundsOnce   sync.Once
	minPt, maxPt r3.Vector
}

// NewCluster wraps points, and optionally colors, with a label.
func NewCluster(label int, points []r3.Vector, colors []Color) *Cluster {
	return &Cluster{Label: label, Points: points, Colors: colors}
}

// NumPoints is the number of member points.
func (c *Cluster) NumPoints() int {
	return len(c.Points)
}

// Centroid is computed on first use.
func (c *Cluster) Centroid() r3.Vector {
	c.centroidOnce.Do(func() {
		c.centroid = centroid(c.Points)
	})
	return c.centroid
}

// BoundingBox returns the axis aligned min and max corners, computed on first use.
func (c *Cluster) BoundingBox() (r3.Vector, r3.Vector) {
	c.boundsOnce.Do(func() {
		if len(c.Points) > 0 {
			c.minPt, c.maxPt = boundingBox(c.Points)
		}
	})
	return c.minPt, c.maxPt
}

// PointCloud returns the members as a cloud.
func (c *Cluster) PointCloud() *PointCloud {
	return New(c.Points, c.Colors)
}

func clusterFromIndices(pc *PointCloud, label int, indices []int) *Cluster {
	sub := pc.Subset(indices)
	return NewCluster(label, sub.Points, sub.Colors)
}
