package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateHomography is returned when the correspondences do not determine a homography.
var ErrDegenerateHomography = errors.New("correspondences do not determine a homography")

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// NewHomography builds a homography from 9 row-major values.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return &h, nil
}

// At returns the entry at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography with a perspective divide. ok is false when the point maps
// to infinity.
func (h *Homography) Apply(pt r2.Point) (r2.Point, bool) {
	x := h[0][0]*pt.X + h[0][1]*pt.Y + h[0][2]
	y := h[1][0]*pt.X + h[1][1]*pt.Y + h[1][2]
	w := h[2][0]*pt.X + h[2][1]*pt.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{X: x / w, Y: y / w}, true
}

// Mat returns the homography as a gonum matrix.
func (h *Homography) Mat() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

func homographyFromMat(m mat.Matrix) *Homography {
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c)
		}
	}
	if w := h[2][2]; math.Abs(w) > 1e-12 {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h[r][c] /= w
			}
		}
	}
	return &h
}

// Inverse returns the matrix inverse, normalized so the bottom-right entry is 1.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Mat()); err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	return homographyFromMat(&inv), nil
}

// hartleyNormalization returns the similarity moving the points' centroid to the origin with a mean
// distance of sqrt(2), along with the transformed points.
func hartleyNormalization(pts []r2.Point) (*mat.Dense, []r2.Point) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	meanDist := 0.0
	for _, p := range pts {
		meanDist += p.Sub(c).Norm()
	}
	meanDist /= float64(len(pts))
	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(c).Mul(s)
	}
	return mat.NewDense(3, 3, []float64{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}), out
}

// EstimateHomography solves for the homography mapping src[i] onto dst[i] in the least squares
// sense with the normalized direct linear transform.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("mismatched correspondence counts %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}
	tSrc, nSrc := hartleyNormalization(src)
	tDst, nDst := hartleyNormalization(dst)

	// Pad with zero rows so the system is at least square; the null space is unchanged.
	rows := max(2*len(src), 9)
	a := mat.NewDense(rows, 9, nil)
	for i := range nSrc {
		x, y := nSrc[i].X, nSrc[i].Y
		u, v := nDst[i].X, nDst[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.Wrap(ErrDegenerateHomography, "svd failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < 1e-10 {
		return nil, ErrDegenerateHomography
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	var tmp, full mat.Dense
	tmp.Mul(hn, tSrc)
	full.Mul(&tDstInv, &tmp)
	if math.Abs(full.At(2, 2)) < 1e-12 {
		return nil, ErrDegenerateHomography
	}
	h := homographyFromMat(&full)
	if math.Abs(mat.Det(h.Mat())) < 1e-12 {
		return nil, ErrDegenerateHomography
	}
	return h, nil
}

// HomographyRANSACOptions configure EstimateHomographyRANSAC.
type HomographyRANSACOptions struct {
	// ReprojectionThreshold is the maximum distance in destination units for an inlier.
	ReprojectionThreshold float64
	MaxIterations         int
}

// DefaultHomographyRANSACOptions uses a 5 pixel reprojection threshold.
func DefaultHomographyRANSACOptions() HomographyRANSACOptions {
	return HomographyRANSACOptions{ReprojectionThreshold: 5.0, MaxIterations: 2000}
}

// EstimateHomographyRANSAC fits a homography robust to outlying correspondences. Minimal samples
// of 4 are drawn from rng; the best consensus set is refit with EstimateHomography. The returned
// mask marks the inliers.
func EstimateHomographyRANSAC(
	src, dst []r2.Point,
	opts HomographyRANSACOptions,
	rng *rand.Rand,
) (*Homography, []bool, error) {
	if len(src) != len(dst) {
		return nil, nil, errors.Errorf("mismatched correspondence counts %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, nil, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) //nolint:gosec
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultHomographyRANSACOptions().MaxIterations
	}
	if opts.ReprojectionThreshold <= 0 {
		opts.ReprojectionThreshold = DefaultHomographyRANSACOptions().ReprojectionThreshold
	}

	inliersOf := func(h *Homography) ([]bool, int) {
		mask := make([]bool, len(src))
		count := 0
		for i := range src {
			p, ok := h.Apply(src[i])
			if ok && p.Sub(dst[i]).Norm() < opts.ReprojectionThreshold {
				mask[i] = true
				count++
			}
		}
		return mask, count
	}

	if len(src) == 4 {
		h, err := EstimateHomography(src, dst)
		if err != nil {
			return nil, nil, err
		}
		mask, _ := inliersOf(h)
		return h, mask, nil
	}

	var bestMask []bool
	bestCount := 0
	sampleSrc := make([]r2.Point, 4)
	sampleDst := make([]r2.Point, 4)
	for iter := 0; iter < opts.MaxIterations && bestCount < len(src); iter++ {
		for j, idx := range rng.Perm(len(src))[:4] {
			sampleSrc[j] = src[idx]
			sampleDst[j] = dst[idx]
		}
		h, err := EstimateHomography(sampleSrc, sampleDst)
		if err != nil {
			continue
		}
		if mask, count := inliersOf(h); count > bestCount {
			bestMask, bestCount = mask, count
		}
	}
	if bestCount < 4 {
		return nil, nil, ErrDegenerateHomography
	}

	var inSrc, inDst []r2.Point
	for i, in := range bestMask {
		if in {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	h, err := EstimateHomography(inSrc, inDst)
	if err != nil {
		return nil, nil, err
	}
	mask, _ := inliersOf(h)
	return h, mask, nil
}
