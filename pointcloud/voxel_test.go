package pointcloud

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
)

func TestVoxelDownsample(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))

	pts := []r3.Vector{
		{X: 0.01, Y: 0.01, Z: 0.01},
		{X: 0.03, Y: 0.05, Z: 0.07},
		{X: 0.25, Y: 0.01, Z: 0.01},
		{X: -0.05, Y: -0.05, Z: -0.05},
	}
	colors := []Color{{R: 1}, {R: 0, G: 1}, {B: 1}, {R: 1, G: 1, B: 1}}
	out, err := p.VoxelDownsample(New(pts, colors), 0.1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NumPoints(), test.ShouldEqual, 3)
	test.That(t, out.Points[0].X, test.ShouldAlmostEqual, 0.02)
	test.That(t, out.Points[0].Y, test.ShouldAlmostEqual, 0.03)
	test.That(t, out.Points[0].Z, test.ShouldAlmostEqual, 0.04)
	test.That(t, out.Colors[0], test.ShouldResemble, Color{R: 0.5, G: 0.5})
	test.That(t, out.Points[1], test.ShouldResemble, pts[2])
	test.That(t, out.Points[2], test.ShouldResemble, pts[3])

	_, err = p.VoxelDownsample(New(pts, nil), 0)
	test.That(t, err, test.ShouldNotBeNil)

	empty, err := p.VoxelDownsample(NewEmpty(), 0.1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.NumPoints(), test.ShouldEqual, 0)
}

func TestVoxelDownsampleIdempotent(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	rng := rand.New(rand.NewSource(42))
	pts := make([]r3.Vector, 5000)
	colors := make([]Color, len(pts))
	for i := range pts {
		pts[i] = r3.Vector{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1}
		colors[i] = Color{R: rng.Float64(), G: rng.Float64(), B: rng.Float64()}
	}
	for _, size := range []float64{0.01, 0.07, 0.1, 0.3} {
		once, err := p.VoxelDownsample(New(pts, colors), size)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, once.NumPoints(), test.ShouldBeLessThanOrEqualTo, len(pts))

		twice, err := p.VoxelDownsample(once, size)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, twice.NumPoints(), test.ShouldEqual, once.NumPoints())
		test.That(t, twice.Points, test.ShouldResemble, once.Points)
	}
}

func TestRandomDownsample(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	pc := New(gridPoints(10, 10, 0.1, 1, r3.Vector{}), nil)

	same := p.RandomDownsample(pc, 100, nil)
	test.That(t, same, test.ShouldEqual, pc)

	out := p.RandomDownsample(pc, 30, rand.New(rand.NewSource(5)))
	test.That(t, out.NumPoints(), test.ShouldEqual, 30)
	seen := map[r3.Vector]bool{}
	for _, pt := range out.Points {
		test.That(t, seen[pt], test.ShouldBeFalse)
		seen[pt] = true
	}

	indices := SampleIndices(100, 30, rand.New(rand.NewSource(5)))
	test.That(t, len(indices), test.ShouldEqual, 30)
	for i := 1; i < len(indices); i++ {
		test.That(t, indices[i], test.ShouldBeGreaterThan, indices[i-1])
	}
}
