package pointcloud

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
)

func gridWithOutlier() *PointCloud {
	pts := gridPoints(10, 10, 0.01, 1, r3.Vector{})
	pts = append(pts, r3.Vector{X: 0.05, Y: 0.05, Z: 2})
	return New(pts, nil)
}

func TestStatisticalOutlierRemoval(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	pc := gridWithOutlier()

	out := p.StatisticalOutlierRemoval(pc, 8, 1.0)
	test.That(t, out.NumPoints(), test.ShouldEqual, 100)
	for _, pt := range out.Points {
		test.That(t, pt.Z, test.ShouldEqual, 1)
	}

	small := New(pc.Points[:5], nil)
	test.That(t, p.StatisticalOutlierRemoval(small, 8, 1.0), test.ShouldEqual, small)
}

func TestRadiusOutlierRemoval(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	pc := gridWithOutlier()

	out := p.RadiusOutlierRemoval(pc, 0.015, 2)
	test.That(t, out.NumPoints(), test.ShouldEqual, 100)
	for _, pt := range out.Points {
		test.That(t, pt.Z, test.ShouldEqual, 1)
	}

	// no grid point has 9 neighbors within 1.5 spacing
	test.That(t, p.RadiusOutlierRemoval(pc, 0.015, 9).NumPoints(), test.ShouldEqual, 0)

	small := New(pc.Points[:3], nil)
	test.That(t, p.RadiusOutlierRemoval(small, 0.015, 5), test.ShouldEqual, small)
}

func TestKDIndex(t *testing.T) {
	pts := gridPoints(5, 5, 1, 0, r3.Vector{})
	index := newKDIndex(pts)

	near := index.nearest(r3.Vector{X: 2, Y: 2}, 5, nil)
	test.That(t, len(near), test.ShouldEqual, 5)
	test.That(t, near[0].dist, test.ShouldEqual, 0)
	test.That(t, pts[near[0].idx], test.ShouldResemble, r3.Vector{X: 2, Y: 2})
	for _, n := range near[1:] {
		test.That(t, n.dist, test.ShouldAlmostEqual, 1)
	}

	within := index.within(r3.Vector{X: 0, Y: 0}, 1.5, nil)
	// origin, two axis neighbors and one diagonal
	test.That(t, len(within), test.ShouldEqual, 4)
}

func TestKDIndexNearestOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pts := make([]r3.Vector, 300)
	for i := range pts {
		pts[i] = r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
	}
	// duplicates of the query point tie at zero
	q := pts[7]
	pts = append(pts, q, q, q)
	index := newKDIndex(pts)

	dists := make([]float64, len(pts))
	for i, p := range pts {
		dists[i] = p.Sub(q).Norm()
	}
	sort.Float64s(dists)

	near := index.nearest(q, 12, nil)
	test.That(t, len(near), test.ShouldEqual, 12)
	for i, n := range near {
		test.That(t, n.dist, test.ShouldAlmostEqual, dists[i], 1e-12)
		if i > 0 {
			test.That(t, n.dist, test.ShouldBeGreaterThanOrEqualTo, near[i-1].dist)
			if n.dist == near[i-1].dist {
				test.That(t, n.idx, test.ShouldBeGreaterThan, near[i-1].idx)
			}
		}
	}
	test.That(t, []int{near[0].idx, near[1].idx, near[2].idx, near[3].idx}, test.ShouldResemble, []int{7, 300, 301, 302})
}
