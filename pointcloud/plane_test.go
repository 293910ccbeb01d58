package pointcloud

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestFitPlane(t *testing.T) {
	// tilted plane z = x + 2
	pts := []r3.Vector{{X: 0, Y: 0, Z: 2}, {X: 1, Y: 0, Z: 3}, {X: 1, Y: 1, Z: 3}, {X: 0, Y: 1, Z: 2}}
	plane, err := FitPlane(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plane.Normal.Norm(), test.ShouldAlmostEqual, 1)
	test.That(t, math.Abs(plane.Normal.X), test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, plane.Normal.Y, test.ShouldAlmostEqual, 0)
	for _, p := range pts {
		test.That(t, plane.Distance(p), test.ShouldAlmostEqual, 0)
	}
	test.That(t, plane.Center, test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.5, Z: 2.5})

	_, err = FitPlane(pts[:2])
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)

	_, err = FitPlane([]r3.Vector{{}, {X: 1}, {X: 2}, {X: 3}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPlaneModelHelpers(t *testing.T) {
	plane := NewPlaneModel(r3.Vector{Z: -2}, r3.Vector{X: 3, Y: 1, Z: 1.5})
	test.That(t, plane.Normal, test.ShouldResemble, r3.Vector{Z: -1})
	test.That(t, plane.Coefficients[3], test.ShouldAlmostEqual, 1.5)
	test.That(t, plane.Distance(r3.Vector{Z: 1}), test.ShouldAlmostEqual, 0.5)
	test.That(t, plane.Verticality(r3.Vector{Z: 5}), test.ShouldAlmostEqual, 1)

	h, ok := plane.AxisIntercept(r3.Vector{Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, h, test.ShouldAlmostEqual, 1.5)
	_, ok = plane.AxisIntercept(r3.Vector{X: 1})
	test.That(t, ok, test.ShouldBeFalse)
}

// tablePlusNoise returns n points on z = h and noise points at least 0.05 above it.
func tablePlusNoise(rng *rand.Rand, n, noise int, h float64) []r3.Vector {
	pts := make([]r3.Vector, 0, n+noise)
	for i := 0; i < n; i++ {
		pts = append(pts, r3.Vector{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: h})
	}
	for i := 0; i < noise; i++ {
		pts = append(pts, r3.Vector{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: h + 0.05 + rng.Float64()*0.95})
	}
	rng.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
	return pts
}

func TestFindPlaneRANSACRecoversPlane(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := tablePlusNoise(rng, 1000, 100, 1.2)

	plane, err := FindPlaneRANSAC(pts, DefaultRANSACOptions(), rand.New(rand.NewSource(1)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(plane.Normal.Z), test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, plane.NumInliers(), test.ShouldBeGreaterThanOrEqualTo, 850)
	test.That(t, plane.Center.Z, test.ShouldAlmostEqual, 1.2, 1e-9)
	h, ok := plane.AxisIntercept(r3.Vector{Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, h, test.ShouldAlmostEqual, 1.2, 1e-9)
	for _, idx := range plane.Inliers {
		test.That(t, pts[idx].Z, test.ShouldAlmostEqual, 1.2)
	}
}

func TestFindPlaneRANSACFailures(t *testing.T) {
	_, err := FindPlaneRANSAC([]r3.Vector{{}, {X: 1}}, DefaultRANSACOptions(), nil)
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)

	// all collinear: every sample is degenerate
	var line []r3.Vector
	for i := 0; i < 50; i++ {
		line = append(line, r3.Vector{X: float64(i)})
	}
	_, err = FindPlaneRANSAC(line, DefaultRANSACOptions(), nil)
	test.That(t, errors.Is(err, ErrNoPlane), test.ShouldBeTrue)

	// a wall is rejected during sampling when a vertical normal is required
	var wall []r3.Vector
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			wall = append(wall, r3.Vector{X: 2, Y: float64(i) * 0.05, Z: float64(j) * 0.05})
		}
	}
	opts := DefaultRANSACOptions()
	opts.Vertical = &VerticalityConstraint{Up: r3.Vector{Z: 1}, MinVerticality: 0.7}
	_, err = FindPlaneRANSAC(wall, opts, nil)
	test.That(t, errors.Is(err, ErrNoPlane), test.ShouldBeTrue)
}

func TestFindPlaneRANSACDeterministic(t *testing.T) {
	pts := tablePlusNoise(rand.New(rand.NewSource(3)), 500, 200, 0.8)
	a, err := FindPlaneRANSAC(pts, DefaultRANSACOptions(), rand.New(rand.NewSource(11)))
	test.That(t, err, test.ShouldBeNil)
	b, err := FindPlaneRANSAC(pts, DefaultRANSACOptions(), rand.New(rand.NewSource(11)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Coefficients, test.ShouldResemble, b.Coefficients)
	test.That(t, a.Inliers, test.ShouldResemble, b.Inliers)
}
