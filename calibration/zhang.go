package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/tabletop/rimage/transform"
)

// Pose is the board pose of one view: a Rodrigues rotation vector and a translation in board
// units.
type Pose struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// CalibrationResult is the outcome of intrinsic calibration.
type CalibrationResult struct {
	Intrinsics *transform.CameraIntrinsics
	// RMSError is the root mean square reprojection error over all corners in pixels.
	RMSError float64
	// PerViewErrors is the RMS reprojection error of each view.
	PerViewErrors []float64
	Poses         []Pose
}

// Parameters refined by Levenberg-Marquardt: fx, fy, cx, cy, k1, k2, p1, p2 followed by 6 pose
// parameters per view. k3 stays at zero.
const (
	numIntrinsicParams = 8
	numPoseParams      = 6
)

type lmOptions struct {
	maxIterations int
	initialLambda float64
	tolerance     float64
}

var defaultLMOptions = lmOptions{maxIterations: 200, initialLambda: 1e-3, tolerance: 1e-14}

// solveIntrinsics calibrates a camera from several views of a planar target with Zhang's method.
// objectPts are the target corners on the z=0 plane; views holds the matching image corners.
func solveIntrinsics(objectPts []r2.Point, views [][]r2.Point, width, height int) (*CalibrationResult, error) {
	if len(views) < 3 {
		return nil, errors.Wrapf(ErrInsufficientData, "need at least 3 views, got %d", len(views))
	}
	homographies := make([]*transform.Homography, 0, len(views))
	for i, v := range views {
		if len(v) != len(objectPts) {
			return nil, errors.Errorf("view %d has %d corners, expected %d", i, len(v), len(objectPts))
		}
		h, err := transform.EstimateHomography(objectPts, v)
		if err != nil {
			return nil, errors.Wrapf(ErrDegenerateGeometry, "view %d: %v", i, err)
		}
		homographies = append(homographies, h)
	}

	k, err := closedFormIntrinsics(homographies, views)
	if err != nil {
		return nil, err
	}
	params := make([]float64, numIntrinsicParams+numPoseParams*len(views))
	copy(params, []float64{k.fx, k.fy, k.cx, k.cy, 0, 0, 0, 0})
	for i, h := range homographies {
		pose, err := k.extrinsics(h)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		off := numIntrinsicParams + numPoseParams*i
		copy(params[off:], []float64{
			pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z,
			pose.Translation.X, pose.Translation.Y, pose.Translation.Z,
		})
	}

	prob := &reprojectionProblem{object: objectPts, views: views}
	params = prob.refine(params, defaultLMOptions)
	fx, fy := params[0], params[1]
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrap(ErrDegenerateGeometry, "refinement diverged")
		}
	}
	if fx <= 0 || fy <= 0 {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "refined focal lengths are not positive (%f, %f)", fx, fy)
	}

	res := &CalibrationResult{
		PerViewErrors: make([]float64, len(views)),
		Poses:         make([]Pose, len(views)),
	}
	residuals := make([]float64, 2*len(objectPts))
	total, count := 0.0, 0
	for i := range views {
		prob.viewResiduals(params, i, residuals)
		sum := 0.0
		for _, r := range residuals {
			sum += r * r
		}
		res.PerViewErrors[i] = math.Sqrt(sum / float64(len(objectPts)))
		total += sum
		count += len(objectPts)
		pose := params[numIntrinsicParams+numPoseParams*i:]
		res.Poses[i] = Pose{
			Rotation:    r3.Vector{X: pose[0], Y: pose[1], Z: pose[2]},
			Translation: r3.Vector{X: pose[3], Y: pose[4], Z: pose[5]},
		}
	}
	res.RMSError = math.Sqrt(total / float64(count))
	res.Intrinsics = &transform.CameraIntrinsics{
		Fx:                fx,
		Fy:                fy,
		Ppx:               params[2],
		Ppy:               params[3],
		K1:                params[4],
		K2:                params[5],
		P1:                params[6],
		P2:                params[7],
		Width:             width,
		Height:            height,
		ReprojectionError: res.RMSError,
		NumImagesUsed:     len(views),
		CalibrationDate:   calibrationTimestamp(),
	}
	return res, nil
}

type pinhole struct {
	fx, fy, cx, cy float64
}

// vij is the row of the constraint h_i^T B h_j = v_ij . b for b = [B11 B12 B22 B13 B23 B33].
func vij(h *transform.Homography, i, j int) []float64 {
	return []float64{
		h[0][i] * h[0][j],
		h[0][i]*h[1][j] + h[1][i]*h[0][j],
		h[1][i] * h[1][j],
		h[2][i]*h[0][j] + h[0][i]*h[2][j],
		h[2][i]*h[1][j] + h[1][i]*h[2][j],
		h[2][i] * h[2][j],
	}
}

// closedFormIntrinsics solves for the zero-skew camera matrix from the image of the absolute
// conic. Image coordinates are conditioned around the centroid of all corners first.
func closedFormIntrinsics(homographies []*transform.Homography, views [][]r2.Point) (pinhole, error) {
	var mean r2.Point
	n := 0
	for _, v := range views {
		for _, p := range v {
			mean = mean.Add(p)
			n++
		}
	}
	mean = mean.Mul(1 / float64(n))
	spread := 0.0
	for _, v := range views {
		for _, p := range v {
			spread = math.Max(spread, math.Max(math.Abs(p.X-mean.X), math.Abs(p.Y-mean.Y)))
		}
	}
	if spread < 1e-9 {
		return pinhole{}, errors.Wrap(ErrDegenerateGeometry, "image corners do not spread")
	}
	s := 1 / spread
	cond := transform.Homography{{s, 0, -s * mean.X}, {0, s, -s * mean.Y}, {0, 0, 1}}

	constraints := mat.NewDense(2*len(homographies), 6, nil)
	for i, h := range homographies {
		var hn mat.Dense
		hn.Mul(cond.Mat(), h.Mat())
		norm := mat.Norm(&hn, 2)
		hn.Scale(1/norm, &hn)
		hc := transform.Homography{}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				hc[r][c] = hn.At(r, c)
			}
		}
		v12 := vij(&hc, 0, 1)
		v11 := vij(&hc, 0, 0)
		v22 := vij(&hc, 1, 1)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v11[k] - v22[k]
		}
		constraints.SetRow(2*i, v12)
		constraints.SetRow(2*i+1, diff)
	}
	var svd mat.SVD
	if ok := svd.Factorize(constraints, mat.SVDFull); !ok {
		return pinhole{}, errors.Wrap(ErrDegenerateGeometry, "svd of conic constraints failed")
	}
	values := svd.Values(nil)
	if values[4] < 1e-9*values[0] {
		return pinhole{}, errors.Wrap(ErrDegenerateGeometry, "views do not constrain the intrinsics, vary the board orientation")
	}
	var right mat.Dense
	svd.VTo(&right)
	b := mat.Col(nil, 5, &right)
	if b[0] < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return pinhole{}, errors.Wrap(ErrDegenerateGeometry, "conic is not positive definite")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 {
		return pinhole{}, errors.Wrap(ErrDegenerateGeometry, "negative focal length squared")
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	u0 := -b13 * alpha * alpha / lambda

	return pinhole{
		fx: alpha / s,
		fy: beta / s,
		cx: u0/s + mean.X,
		cy: v0/s + mean.Y,
	}, nil
}

func (k pinhole) unproject(x, y, w float64) r3.Vector {
	return r3.Vector{X: (x - k.cx*w) / k.fx, Y: (y - k.cy*w) / k.fy, Z: w}
}

// extrinsics recovers the board pose from a view homography, with the board in front of the
// camera.
func (k pinhole) extrinsics(h *transform.Homography) (Pose, error) {
	c1 := k.unproject(h[0][0], h[1][0], h[2][0])
	c2 := k.unproject(h[0][1], h[1][1], h[2][1])
	t := k.unproject(h[0][2], h[1][2], h[2][2])
	scale := 2 / (c1.Norm() + c2.Norm())
	if t.Z < 0 {
		scale = -scale
	}
	c1, c2, t = c1.Mul(scale), c2.Mul(scale), t.Mul(scale)
	c3 := c1.Cross(c2)

	q := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	var svd mat.SVD
	if ok := svd.Factorize(q, mat.SVDFull); !ok {
		return Pose{}, errors.Wrap(ErrDegenerateGeometry, "svd of rotation failed")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rot.At(i, j)
		}
	}
	return Pose{Rotation: rotationToRodrigues(r), Translation: t}, nil
}

// rodriguesToRotation converts an axis-angle vector to a rotation matrix.
func rodriguesToRotation(rv r3.Vector) [3][3]float64 {
	theta := rv.Norm()
	if theta < 1e-12 {
		return [3][3]float64{
			{1, -rv.Z, rv.Y},
			{rv.Z, 1, -rv.X},
			{-rv.Y, rv.X, 1},
		}
	}
	k := rv.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	cc := 1 - c
	return [3][3]float64{
		{c + k.X*k.X*cc, k.X*k.Y*cc - k.Z*s, k.X*k.Z*cc + k.Y*s},
		{k.Y*k.X*cc + k.Z*s, c + k.Y*k.Y*cc, k.Y*k.Z*cc - k.X*s},
		{k.Z*k.X*cc - k.Y*s, k.Z*k.Y*cc + k.X*s, c + k.Z*k.Z*cc},
	}
}

// rotationToRodrigues converts a rotation matrix to an axis-angle vector.
func rotationToRodrigues(r [3][3]float64) r3.Vector {
	cosTheta := math.Max(-1, math.Min(1, (r[0][0]+r[1][1]+r[2][2]-1)/2))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{X: r[2][1] - r[1][2], Y: r[0][2] - r[2][0], Z: r[1][0] - r[0][1]}
	sinTheta := math.Sin(theta)
	switch {
	case theta < 1e-9:
		return axis.Mul(0.5)
	case sinTheta > 1e-6:
		return axis.Mul(theta / (2 * sinTheta))
	}
	// theta is close to pi; recover the axis from the symmetric part.
	diag := [3]float64{(r[0][0] + 1) / 2, (r[1][1] + 1) / 2, (r[2][2] + 1) / 2}
	col := 0
	for i := 1; i < 3; i++ {
		if diag[i] > diag[col] {
			col = i
		}
	}
	norm := math.Sqrt(math.Max(diag[col], 1e-18))
	k := r3.Vector{
		X: (r[0][col] + r[col][0]) / 4 / norm,
		Y: (r[1][col] + r[col][1]) / 4 / norm,
		Z: (r[2][col] + r[col][2]) / 4 / norm,
	}
	switch col {
	case 0:
		k.X = norm
	case 1:
		k.Y = norm
	default:
		k.Z = norm
	}
	if axis.Dot(k) < 0 {
		k = k.Mul(-1)
	}
	return k.Normalize().Mul(theta)
}

// projectBoardPoint projects a board point through a pose and the distorted pinhole camera.
func projectBoardPoint(intr []float64, rot [3][3]float64, t r3.Vector, p r2.Point) r2.Point {
	xc := rot[0][0]*p.X + rot[0][1]*p.Y + t.X
	yc := rot[1][0]*p.X + rot[1][1]*p.Y + t.Y
	zc := rot[2][0]*p.X + rot[2][1]*p.Y + t.Z
	if math.Abs(zc) < 1e-12 {
		zc = 1e-12
	}
	bc := transform.BrownConrady{
		RadialK1:     intr[4],
		RadialK2:     intr[5],
		TangentialP1: intr[6],
		TangentialP2: intr[7],
	}
	xd, yd := bc.Transform(xc/zc, yc/zc)
	return r2.Point{X: intr[0]*xd + intr[2], Y: intr[1]*yd + intr[3]}
}

type reprojectionProblem struct {
	object []r2.Point
	views  [][]r2.Point
}

func (rp *reprojectionProblem) numResiduals() int {
	return 2 * len(rp.object) * len(rp.views)
}

// viewResiduals writes predicted minus observed pixel coordinates of view v into out.
func (rp *reprojectionProblem) viewResiduals(params []float64, v int, out []float64) {
	pose := params[numIntrinsicParams+numPoseParams*v:]
	rot := rodriguesToRotation(r3.Vector{X: pose[0], Y: pose[1], Z: pose[2]})
	t := r3.Vector{X: pose[3], Y: pose[4], Z: pose[5]}
	for i, p := range rp.object {
		proj := projectBoardPoint(params, rot, t, p)
		obs := rp.views[v][i]
		out[2*i] = proj.X - obs.X
		out[2*i+1] = proj.Y - obs.Y
	}
}

func (rp *reprojectionProblem) residuals(params, out []float64) float64 {
	per := 2 * len(rp.object)
	for v := range rp.views {
		rp.viewResiduals(params, v, out[v*per:(v+1)*per])
	}
	cost := 0.0
	for _, r := range out {
		cost += r * r
	}
	return cost
}

// jacobian fills jac by central differences. Pose parameters only touch their own view's rows.
func (rp *reprojectionProblem) jacobian(params []float64, jac *mat.Dense) {
	per := 2 * len(rp.object)
	all := len(rp.views) * per
	plus := make([]float64, all)
	minus := make([]float64, all)
	work := append([]float64(nil), params...)
	jac.Zero()

	step := func(j int) float64 {
		return 1e-6 * math.Max(1, math.Abs(params[j]))
	}
	for j := 0; j < numIntrinsicParams; j++ {
		h := step(j)
		work[j] = params[j] + h
		rp.residuals(work, plus)
		work[j] = params[j] - h
		rp.residuals(work, minus)
		work[j] = params[j]
		for i := 0; i < all; i++ {
			jac.Set(i, j, (plus[i]-minus[i])/(2*h))
		}
	}
	for v := range rp.views {
		for k := 0; k < numPoseParams; k++ {
			j := numIntrinsicParams + numPoseParams*v + k
			h := step(j)
			work[j] = params[j] + h
			rp.viewResiduals(work, v, plus[:per])
			work[j] = params[j] - h
			rp.viewResiduals(work, v, minus[:per])
			work[j] = params[j]
			for i := 0; i < per; i++ {
				jac.Set(v*per+i, j, (plus[i]-minus[i])/(2*h))
			}
		}
	}
}

// refine minimizes the squared reprojection error with Levenberg-Marquardt, damping the
// diagonal of the normal equations.
func (rp *reprojectionProblem) refine(params []float64, opts lmOptions) []float64 {
	m, n := rp.numResiduals(), len(params)
	res := make([]float64, m)
	cost := rp.residuals(params, res)
	jac := mat.NewDense(m, n, nil)
	candidate := make([]float64, n)
	candRes := make([]float64, m)
	lambda := opts.initialLambda

	for iter := 0; iter < opts.maxIterations; iter++ {
		rp.jacobian(params, jac)
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, res))
		grad.ScaleVec(-1, &grad)

		improved := false
		for lambda < 1e16 {
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &grad); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = params[i] + delta.AtVec(i)
			}
			newCost := rp.residuals(candidate, candRes)
			if newCost < cost {
				converged := cost-newCost <= opts.tolerance*cost
				copy(params, candidate)
				copy(res, candRes)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if converged {
					return params
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return params
}
