package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

// gridPoints makes an nx by ny grid with the given spacing at height z.
func gridPoints(nx, ny int, spacing, z float64, origin r3.Vector) []r3.Vector {
	pts := make([]r3.Vector, 0, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			pts = append(pts, origin.Add(r3.Vector{X: float64(i) * spacing, Y: float64(j) * spacing, Z: z}))
		}
	}
	return pts
}

// blob makes an n x n x m lattice with spacing 0.01 starting at origin.
func blob(origin r3.Vector, n, m int) []r3.Vector {
	var pts []r3.Vector
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < m; k++ {
				pts = append(pts, origin.Add(r3.Vector{X: float64(i) * 0.01, Y: float64(j) * 0.01, Z: float64(k) * 0.01}))
			}
		}
	}
	return pts
}

func TestColorRGB255(t *testing.T) {
	for _, v := range []uint8{0, 1, 127, 128, 254, 255} {
		r, g, b := NewColorFromRGB255(v, 255-v, v/2).RGB255()
		test.That(t, r, test.ShouldEqual, v)
		test.That(t, g, test.ShouldEqual, 255-v)
		test.That(t, b, test.ShouldEqual, v/2)
	}
	r, g, b := Color{R: -0.5, G: 1.7, B: math.NaN()}.RGB255()
	test.That(t, r, test.ShouldEqual, 0)
	test.That(t, g, test.ShouldEqual, 255)
	test.That(t, b, test.ShouldEqual, 0)
}

func TestPointCloudBasics(t *testing.T) {
	var nilCloud *PointCloud
	test.That(t, nilCloud.NumPoints(), test.ShouldEqual, 0)
	test.That(t, nilCloud.HasColors(), test.ShouldBeFalse)

	empty := NewEmpty()
	test.That(t, empty.NumPoints(), test.ShouldEqual, 0)
	_, _, ok := empty.Bounds()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, empty.Centroid(), test.ShouldResemble, r3.Vector{})

	pts := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0, Z: 5}, {X: 0, Y: 4, Z: 4}}
	colors := []Color{{R: 1}, {G: 1}, {B: 1}}
	pc := New(pts, colors)
	test.That(t, pc.Validate(), test.ShouldBeNil)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 3)
	test.That(t, pc.HasColors(), test.ShouldBeTrue)
	test.That(t, pc.HasNormals(), test.ShouldBeFalse)

	minPt, maxPt, ok := pc.Bounds()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, minPt, test.ShouldResemble, r3.Vector{X: -1, Y: 0, Z: 3})
	test.That(t, maxPt, test.ShouldResemble, r3.Vector{X: 1, Y: 4, Z: 5})
	test.That(t, pc.Centroid(), test.ShouldResemble, r3.Vector{X: 0, Y: 2, Z: 4})

	sub := pc.Subset([]int{2, 0})
	test.That(t, sub.Points, test.ShouldResemble, []r3.Vector{pts[2], pts[0]})
	test.That(t, sub.Colors, test.ShouldResemble, []Color{colors[2], colors[0]})

	sel := pc.Select([]bool{false, true, false})
	test.That(t, sel.NumPoints(), test.ShouldEqual, 1)
	test.That(t, sel.Points[0], test.ShouldResemble, pts[1])
	test.That(t, pc.NumPoints(), test.ShouldEqual, 3)

	bad := New(pts, colors[:2])
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	test.That(t, bad.HasColors(), test.ShouldBeFalse)
}
