// Package pointcloud defines a dense point cloud in the depth sensor frame together with the
// generation, filtering, segmentation and clustering algorithms run on it.
package pointcloud

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Color is an RGB triple with channels in [0,1].
type Color struct {
	R, G, B float64
}

// NewColorFromRGB255 converts 8 bit channels to a Color.
func NewColorFromRGB255(r, g, b uint8) Color {
	return Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
}

// RGB255 scales the channels to [0,255], rounding and clamping out of range values.
func (c Color) RGB255() (uint8, uint8, uint8) {
	return to255(c.R), to255(c.G), to255(c.B)
}

func to255(v float64) uint8 {
	v *= 255
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// PointCloud is N points in meters with optional parallel colors and normals. A cloud is
// never mutated by the algorithms in this package: every stage returns a new one.
type PointCloud struct {
	Points    []r3.Vector
	Colors    []Color
	Normals   []r3.Vector
	Timestamp time.Time
}

// New returns a cloud over the given points and colors. colors may be nil.
func New(points []r3.Vector, colors []Color) *PointCloud {
	return &PointCloud{Points: points, Colors: colors, Timestamp: time.Now()}
}

// NewEmpty returns a cloud without points.
func NewEmpty() *PointCloud {
	return &PointCloud{Points: []r3.Vector{}, Timestamp: time.Now()}
}

// NumPoints is always the length of Points.
func (pc *PointCloud) NumPoints() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// HasColors reports whether a color is stored for every point.
func (pc *PointCloud) HasColors() bool {
	return pc != nil && pc.Colors != nil && len(pc.Colors) == len(pc.Points)
}

// HasNormals reports whether a normal is stored for every point.
func (pc *PointCloud) HasNormals() bool {
	return pc != nil && pc.Normals != nil && len(pc.Normals) == len(pc.Points)
}

// Validate checks that the optional arrays are parallel to Points.
func (pc *PointCloud) Validate() error {
	if pc.Colors != nil && len(pc.Colors) != len(pc.Points) {
		return errors.Errorf("%d colors for %d points", len(pc.Colors), len(pc.Points))
	}
	if pc.Normals != nil && len(pc.Normals) != len(pc.Points) {
		return errors.Errorf("%d normals for %d points", len(pc.Normals), len(pc.Points))
	}
	return nil
}

// Bounds returns the axis aligned min and max corners. ok is false for an empty cloud.
func (pc *PointCloud) Bounds() (minPt, maxPt r3.Vector, ok bool) {
	if pc.NumPoints() == 0 {
		return r3.Vector{}, r3.Vector{}, false
	}
	minPt, maxPt = boundingBox(pc.Points)
	return minPt, maxPt, true
}

// Centroid is the mean position. It is the zero vector for an empty cloud.
func (pc *PointCloud) Centroid() r3.Vector {
	return centroid(pc.Points)
}

// Subset returns a new cloud holding the points at indices, in that order.
func (pc *PointCloud) Subset(indices []int) *PointCloud {
	out := &PointCloud{Points: make([]r3.Vector, len(indices)), Timestamp: pc.Timestamp}
	if pc.HasColors() {
		out.Colors = make([]Color, len(indices))
	}
	if pc.HasNormals() {
		out.Normals = make([]r3.Vector, len(indices))
	}
	for i, idx := range indices {
		out.Points[i] = pc.Points[idx]
		if out.Colors != nil {
			out.Colors[i] = pc.Colors[idx]
		}
		if out.Normals != nil {
			out.Normals[i] = pc.Normals[idx]
		}
	}
	return out
}

// Select returns a new cloud with the points where keep is true.
func (pc *PointCloud) Select(keep []bool) *PointCloud {
	indices := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			indices = append(indices, i)
		}
	}
	return pc.Subset(indices)
}

// WithColors returns a shallow copy of the cloud with its colors replaced.
func (pc *PointCloud) WithColors(colors []Color) *PointCloud {
	out := *pc
	out.Colors = colors
	return &out
}

func boundingBox(pts []r3.Vector) (r3.Vector, r3.Vector) {
	minPt := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxPt := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range pts {
		minPt.X = math.Min(minPt.X, p.X)
		minPt.Y = math.Min(minPt.Y, p.Y)
		minPt.Z = math.Min(minPt.Z, p.Z)
		maxPt.X = math.Max(maxPt.X, p.X)
		maxPt.Y = math.Max(maxPt.Y, p.Y)
		maxPt.Z = math.Max(maxPt.Z, p.Z)
	}
	return minPt, maxPt
}

func centroid(pts []r3.Vector) r3.Vector {
	if len(pts) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(pts)))
}
