package pointcloud

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PlaneModel is a plane ax + by + cz + d = 0 with a unit normal (a, b, c), the indices of the
// points supporting it and their centroid. It is only meaningful against the cloud it was
// computed from.
type PlaneModel struct {
	Coefficients [4]float64
	Inliers      []int
	Normal       r3.Vector
	Center       r3.Vector
}

// NewPlaneModel builds a plane from a normal and a point on it.
func NewPlaneModel(normal, onPlane r3.Vector) *PlaneModel {
	n := normal.Normalize()
	d := -n.Dot(onPlane)
	return &PlaneModel{
		Coefficients: [4]float64{n.X, n.Y, n.Z, d},
		Normal:       n,
		Center:       onPlane,
	}
}

// NumInliers is the size of the support set.
func (p *PlaneModel) NumInliers() int {
	return len(p.Inliers)
}

// Distance is the signed distance from pt to the plane.
func (p *PlaneModel) Distance(pt r3.Vector) float64 {
	return p.Coefficients[0]*pt.X + p.Coefficients[1]*pt.Y + p.Coefficients[2]*pt.Z + p.Coefficients[3]
}

// Verticality is |normal · up|, 1 when the plane is perpendicular to up.
func (p *PlaneModel) Verticality(up r3.Vector) float64 {
	return math.Abs(p.Normal.Dot(up.Normalize()))
}

// AxisIntercept returns where the plane crosses the given axis through the origin, e.g. the
// table height along Z. ok is false when the plane is nearly parallel to the axis.
func (p *PlaneModel) AxisIntercept(axis r3.Vector) (float64, bool) {
	c := p.Normal.Dot(axis.Normalize())
	if math.Abs(c) <= 0.001 {
		return 0, false
	}
	return -p.Coefficients[3] / c, true
}

// FitPlane fits a least squares plane with a singular value decomposition of the centered
// points. The normal is the right singular vector of the smallest singular value.
func FitPlane(pts []r3.Vector) (*PlaneModel, error) {
	if len(pts) < 3 {
		return nil, errors.Wrapf(ErrInsufficientPoints, "plane fit needs 3 points, got %d", len(pts))
	}
	center := centroid(pts)
	// Pad to at least 3 rows so a full V is always available.
	rows := max(len(pts), 3)
	centered := mat.NewDense(rows, 3, nil)
	for i, p := range pts {
		q := p.Sub(center)
		centered.SetRow(i, []float64{q.X, q.Y, q.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDFull); !ok {
		return nil, errors.New("svd factorization failed while fitting plane")
	}
	values := svd.Values(nil)
	if values[1] < 1e-12 {
		return nil, errors.New("points are collinear, plane is undetermined")
	}
	var v mat.Dense
	svd.VTo(&v)
	normal := r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	plane := NewPlaneModel(normal, center)
	return plane, nil
}

// VerticalityConstraint rejects RANSAC candidates whose normal is not within MinVerticality of Up.
type VerticalityConstraint struct {
	Up             r3.Vector
	MinVerticality float64
}

// RANSACOptions configure the plane search.
type RANSACOptions struct {
	DistanceThreshold float64
	MaxIterations     int
	MinInliersRatio   float64
	// Vertical, when set, discards candidate planes during sampling.
	Vertical *VerticalityConstraint
}

// DefaultRANSACOptions are the general purpose defaults.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		DistanceThreshold: 0.01,
		MaxIterations:     1000,
		MinInliersRatio:   0.1,
	}
}

// newRand returns rng, or a generator with a fixed seed when rng is nil.
func newRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	//nolint:gosec
	return rand.New(rand.NewSource(1))
}

// sampleDistinct draws k distinct indices in [0, n).
func sampleDistinct(rng *rand.Rand, n, k int, out []int) []int {
	out = out[:0]
	for len(out) < k {
		idx := rng.Intn(n)
		dup := false
		for _, o := range out {
			if o == idx {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, idx)
		}
	}
	return out
}

// FindPlaneRANSAC repeatedly fits a plane through 3 random points and keeps the candidate with
// the most points closer than the distance threshold. Samples whose cross product is nearly
// zero are skipped. It fails when the best support is under MinInliersRatio of the points.
func FindPlaneRANSAC(pts []r3.Vector, opts RANSACOptions, rng *rand.Rand) (*PlaneModel, error) {
	if len(pts) < 3 {
		return nil, errors.Wrapf(ErrInsufficientPoints, "RANSAC needs 3 points, got %d", len(pts))
	}
	rng = newRand(rng)

	var (
		bestNormal r3.Vector
		bestD      float64
		bestCount  int
		found      bool
		sample     = make([]int, 0, 3)
	)
	for i := 0; i < opts.MaxIterations; i++ {
		sample = sampleDistinct(rng, len(pts), 3, sample)
		p1, p2, p3 := pts[sample[0]], pts[sample[1]], pts[sample[2]]

		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		norm := cross.Norm()
		if norm < 1e-10 {
			continue
		}
		normal := cross.Mul(1 / norm)
		if opts.Vertical != nil &&
			math.Abs(normal.Dot(opts.Vertical.Up.Normalize())) < opts.Vertical.MinVerticality {
			continue
		}
		d := -normal.Dot(p1)

		count := 0
		for _, pt := range pts {
			if math.Abs(normal.Dot(pt)+d) < opts.DistanceThreshold {
				count++
			}
		}
		if count > bestCount {
			bestNormal, bestD, bestCount, found = normal, d, count, true
		}
	}

	minInliers := int(float64(len(pts)) * opts.MinInliersRatio)
	if !found || bestCount < minInliers {
		return nil, errors.Wrapf(ErrNoPlane, "best plane has %d inliers, need %d", bestCount, minInliers)
	}

	inliers := make([]int, 0, bestCount)
	inlierPts := make([]r3.Vector, 0, bestCount)
	for i, pt := range pts {
		if math.Abs(bestNormal.Dot(pt)+bestD) < opts.DistanceThreshold {
			inliers = append(inliers, i)
			inlierPts = append(inlierPts, pt)
		}
	}
	return &PlaneModel{
		Coefficients: [4]float64{bestNormal.X, bestNormal.Y, bestNormal.Z, bestD},
		Inliers:      inliers,
		Normal:       bestNormal,
		Center:       centroid(inlierPts),
	}, nil
}
