package calibration

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"

	"go.viam.com/tabletop/rimage/transform"
)

// DetectorOptions tune checkerboard corner detection.
type DetectorOptions struct {
	// BlurSigma is the Gaussian blur applied before measuring curvature.
	BlurSigma float64
	// MinResponseRatio is the fraction of the strongest saddle response a corner must reach.
	MinResponseRatio float64
	// SuppressionRadius is the half size of the non-maximum suppression window.
	SuppressionRadius int
	// RingRadius is the radius of the circle sampled around each candidate; it must stay inside
	// the squares touching the corner.
	RingRadius float64
	// MinContrast is the minimum intensity range on the ring, in [0, 1].
	MinContrast float64
	// MatchTolerance is the fraction of the corner spacing a corner may sit from its predicted
	// grid position.
	MatchTolerance float64
}

// DefaultDetectorOptions work for boards whose squares are at least about 12 pixels wide.
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		BlurSigma:         1.5,
		MinResponseRatio:  0.3,
		SuppressionRadius: 3,
		RingRadius:        5,
		MinContrast:       0.15,
		MatchTolerance:    0.3,
	}
}

const ringSamples = 24

type grayImage struct {
	w, h int
	pix  []float64
}

func (g *grayImage) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

// bilinear samples at a real position, clamping to the border.
func (g *grayImage) bilinear(x, y float64) float64 {
	x = math.Max(0, math.Min(float64(g.w-1), x))
	y = math.Max(0, math.Min(float64(g.h-1), y))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, g.w-1), min(y0+1, g.h-1)
	fx, fy := x-float64(x0), y-float64(y0)
	top := g.at(x0, y0)*(1-fx) + g.at(x1, y0)*fx
	bottom := g.at(x0, y1)*(1-fx) + g.at(x1, y1)*fx
	return top*(1-fy) + bottom*fy
}

func blurredGray(img image.Image, sigma float64) *grayImage {
	gray := imaging.Grayscale(img)
	if sigma > 0 {
		gray = imaging.Blur(gray, sigma)
	}
	b := gray.Bounds()
	g := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < g.w; x++ {
			g.pix[y*g.w+x] = float64(row[4*x]) / 255
		}
	}
	return g
}

// saddleResponse is Ixy² - Ixx*Iyy, the negated Hessian determinant. It peaks where two edges
// cross and vanishes along a single straight edge.
func saddleResponse(g *grayImage) []float64 {
	resp := make([]float64, len(g.pix))
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			c := g.at(x, y)
			ixx := g.at(x+1, y) - 2*c + g.at(x-1, y)
			iyy := g.at(x, y+1) - 2*c + g.at(x, y-1)
			ixy := (g.at(x+1, y+1) - g.at(x+1, y-1) - g.at(x-1, y+1) + g.at(x-1, y-1)) / 4
			if s := ixy*ixy - ixx*iyy; s > 0 {
				resp[y*g.w+x] = s
			}
		}
	}
	return resp
}

type cornerCandidate struct {
	pt       r2.Point
	response float64
}

// localMaxima keeps pixels that are the strongest in their window, breaking ties by scan order.
func localMaxima(resp []float64, w, h, radius int, threshold float64) []cornerCandidate {
	var out []cornerCandidate
	for y := radius; y < h-radius; y++ {
		for x := radius; x < w-radius; x++ {
			idx := y*w + x
			s := resp[idx]
			if s < threshold || s == 0 {
				continue
			}
			isMax := true
			for dy := -radius; dy <= radius && isMax; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					n := (y+dy)*w + x + dx
					if n == idx {
						continue
					}
					if resp[n] > s || (resp[n] == s && n < idx) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				out = append(out, cornerCandidate{
					pt:       refineQuadratic(resp, w, x, y),
					response: s,
				})
			}
		}
	}
	return out
}

// refineQuadratic moves an integer peak to the vertex of the parabola through it and its
// neighbors along each axis.
func refineQuadratic(resp []float64, w, x, y int) r2.Point {
	offset := func(lo, c, hi float64) float64 {
		den := lo - 2*c + hi
		if den >= 0 {
			return 0
		}
		return math.Max(-0.5, math.Min(0.5, 0.5*(lo-hi)/den))
	}
	c := resp[y*w+x]
	dx := offset(resp[y*w+x-1], c, resp[y*w+x+1])
	dy := offset(resp[(y-1)*w+x], c, resp[(y+1)*w+x])
	return r2.Point{X: float64(x) + dx, Y: float64(y) + dy}
}

// isXJunction samples a ring around p and requires the intensity to alternate bright and dark
// exactly four times, which separates checkerboard corners from the corners of a single square.
func isXJunction(g *grayImage, p r2.Point, radius, minContrast float64) bool {
	var samples [ringSamples]float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range samples {
		a := 2 * math.Pi * float64(i) / ringSamples
		v := g.bilinear(p.X+radius*math.Cos(a), p.Y+radius*math.Sin(a))
		samples[i] = v
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi-lo < minContrast {
		return false
	}
	mid, band := (lo+hi)/2, 0.1*(hi-lo)
	first, prev := 0, 0
	changes := 0
	for _, v := range samples {
		state := 0
		switch {
		case v > mid+band:
			state = 1
		case v < mid-band:
			state = -1
		}
		if state == 0 {
			continue
		}
		if prev != 0 && state != prev {
			changes++
		}
		if first == 0 {
			first = state
		}
		prev = state
	}
	if prev != 0 && first != prev {
		changes++
	}
	return changes == 4
}

// DetectCorners finds the inner corners of a rows x cols checkerboard and returns them row by
// row. found is false when no complete grid is visible.
func DetectCorners(img image.Image, rows, cols int, opts DetectorOptions) (bool, []r2.Point) {
	if img == nil || rows < 2 || cols < 2 {
		return false, nil
	}
	b := img.Bounds()
	if b.Dx() < 8 || b.Dy() < 8 {
		return false, nil
	}
	g := blurredGray(img, opts.BlurSigma)
	resp := saddleResponse(g)

	strongest, err := stats.Max(resp)
	if err != nil || strongest <= 0 {
		return false, nil
	}
	candidates := localMaxima(resp, g.w, g.h, max(opts.SuppressionRadius, 1), opts.MinResponseRatio*strongest)

	corners := candidates[:0]
	for _, c := range candidates {
		if isXJunction(g, c.pt, opts.RingRadius, opts.MinContrast) {
			corners = append(corners, c)
		}
	}
	want := rows * cols
	if len(corners) < want {
		return false, nil
	}
	sort.SliceStable(corners, func(i, j int) bool { return corners[i].response > corners[j].response })
	pts := make([]r2.Point, want)
	for i := range pts {
		pts[i] = corners[i].pt
	}
	ordered, ok := orderGrid(pts, rows, cols, opts.MatchTolerance)
	if !ok {
		return false, nil
	}
	return true, ordered
}

// orderGrid assigns unordered corners to grid positions. The outer corners of the grid are the
// largest quadrilateral on the convex hull; a homography from the ideal grid through them
// predicts every other corner. Both assignments of rows and columns to the quadrilateral sides
// are tried.
func orderGrid(pts []r2.Point, rows, cols int, tolerance float64) ([]r2.Point, bool) {
	hull := convexHull(pts)
	if len(hull) < 4 {
		return nil, false
	}
	quad := largestQuadrilateral(hull)

	spacing := medianNeighborDistance(pts)
	if spacing <= 0 {
		return nil, false
	}
	maxDist := tolerance * spacing

	start := 0
	for i := 1; i < 4; i++ {
		if quad[i].X+quad[i].Y < quad[start].X+quad[start].Y {
			start = i
		}
	}
	ideal := []r2.Point{
		{X: 0, Y: 0},
		{X: float64(cols - 1), Y: 0},
		{X: float64(cols - 1), Y: float64(rows - 1)},
		{X: 0, Y: float64(rows - 1)},
	}

	var best []r2.Point
	bestErr := math.Inf(1)
	for _, dir := range []int{1, 3} {
		outer := []r2.Point{
			quad[start],
			quad[(start+dir)%4],
			quad[(start+2*dir)%4],
			quad[(start+3*dir)%4],
		}
		h, err := transform.EstimateHomography(ideal, outer)
		if err != nil {
			continue
		}
		ordered, total, ok := matchGrid(pts, h, rows, cols, maxDist)
		if ok && total < bestErr {
			best, bestErr = ordered, total
		}
	}
	return best, best != nil
}

// matchGrid pairs each predicted grid position with the nearest unused corner.
func matchGrid(pts []r2.Point, h *transform.Homography, rows, cols int, maxDist float64) ([]r2.Point, float64, bool) {
	used := make([]bool, len(pts))
	out := make([]r2.Point, 0, rows*cols)
	total := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pred, ok := h.Apply(r2.Point{X: float64(c), Y: float64(r)})
			if !ok {
				return nil, 0, false
			}
			bestIdx, bestDist := -1, maxDist
			for i, p := range pts {
				if used[i] {
					continue
				}
				if d := p.Sub(pred).Norm(); d < bestDist {
					bestIdx, bestDist = i, d
				}
			}
			if bestIdx < 0 {
				return nil, 0, false
			}
			used[bestIdx] = true
			out = append(out, pts[bestIdx])
			total += bestDist
		}
	}
	return out, total, true
}

func medianNeighborDistance(pts []r2.Point) float64 {
	nearest := make([]float64, 0, len(pts))
	for i, p := range pts {
		d := math.Inf(1)
		for j, q := range pts {
			if i != j {
				d = math.Min(d, p.Sub(q).Norm())
			}
		}
		nearest = append(nearest, d)
	}
	m, err := stats.Median(nearest)
	if err != nil {
		return 0
	}
	return m
}

// convexHull returns the hull vertices in counter-clockwise order, dropping collinear points.
func convexHull(pts []r2.Point) []r2.Point {
	sorted := append([]r2.Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	cross := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}
	hull := make([]r2.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// largestQuadrilateral picks the 4 hull vertices enclosing the most area, in hull order.
func largestQuadrilateral(hull []r2.Point) [4]r2.Point {
	area := func(a, b, c, d r2.Point) float64 {
		return math.Abs(c.Sub(a).Cross(d.Sub(b))) / 2
	}
	var best [4]r2.Point
	bestArea := -1.0
	n := len(hull)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				for l := k + 1; l < n; l++ {
					if a := area(hull[i], hull[j], hull[k], hull[l]); a > bestArea {
						bestArea = a
						best = [4]r2.Point{hull[i], hull[j], hull[k], hull[l]}
					}
				}
			}
		}
	}
	return best
}
