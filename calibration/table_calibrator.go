package calibration

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
)

// Corner names a table corner. The manual flow visits them in CornerOrder.
type Corner string

// The table corners.
const (
	TopLeft     Corner = "top_left"
	TopRight    Corner = "top_right"
	BottomRight Corner = "bottom_right"
	BottomLeft  Corner = "bottom_left"
)

// CornerOrder is the order markers are shown and corners are recorded in.
var CornerOrder = [4]Corner{TopLeft, TopRight, BottomRight, BottomLeft}

// DefaultMarkerSize is the marker inset from the display edges in pixels.
const DefaultMarkerSize = 50

// minTablePoints is the smallest cloud DetectTablePlaneRANSAC will search.
const minTablePoints = 100

// TableRANSACOptions configure automatic table detection.
type TableRANSACOptions struct {
	DistanceThreshold float64
	MinInliersRatio   float64
	MaxIterations     int
	// Up is the axis the table normal must be close to; the height is measured along it.
	Up             r3.Vector
	MinVerticality float64
}

// DefaultTableRANSACOptions returns the automatic detection defaults.
func DefaultTableRANSACOptions() TableRANSACOptions {
	return TableRANSACOptions{
		DistanceThreshold: 0.02,
		MinInliersRatio:   0.3,
		MaxIterations:     1000,
		Up:                r3.Vector{Z: 1},
		MinVerticality:    0.7,
	}
}

// TableCalibrator finds the table plane, either from 4 corners touched in order while markers are
// shown on the display, or automatically from a point cloud.
type TableCalibrator struct {
	logger       logging.Logger
	screenWidth  int
	screenHeight int
	markerSize   int

	corners    map[Corner]r3.Vector
	step       int
	plane      *[4]float64
	height     float64
	calibrated bool
}

// NewTableCalibrator returns a calibrator for a width x height display.
func NewTableCalibrator(width, height, markerSize int, logger logging.Logger) *TableCalibrator {
	if width <= 0 || height <= 0 {
		width, height = DefaultScreenWidth, DefaultScreenHeight
	}
	if markerSize <= 0 {
		markerSize = DefaultMarkerSize
	}
	logger.Debugw("table calibrator created", "width", width, "height", height)
	return &TableCalibrator{
		logger:       logger,
		screenWidth:  width,
		screenHeight: height,
		markerSize:   markerSize,
		corners:      map[Corner]r3.Vector{},
	}
}

// ScreenCorners returns where each corner marker is drawn on a width x height display, inset by
// the marker size.
func ScreenCorners(width, height, markerSize int) map[Corner]r2.Point {
	w, h, m := float64(width), float64(height), float64(markerSize)
	return map[Corner]r2.Point{
		TopLeft:     {X: m, Y: m},
		TopRight:    {X: w - m, Y: m},
		BottomRight: {X: w - m, Y: h - m},
		BottomLeft:  {X: m, Y: h - m},
	}
}

// CurrentCorner is the corner the manual flow is waiting for. ok is false once all are recorded.
func (tc *TableCalibrator) CurrentCorner() (Corner, bool) {
	if tc.step >= len(CornerOrder) {
		return "", false
	}
	return CornerOrder[tc.step], true
}

// CurrentMarkerPosition is where the marker for the current corner is drawn.
func (tc *TableCalibrator) CurrentMarkerPosition() (Corner, r2.Point, bool) {
	corner, ok := tc.CurrentCorner()
	if !ok {
		return "", r2.Point{}, false
	}
	return corner, ScreenCorners(tc.screenWidth, tc.screenHeight, tc.markerSize)[corner], true
}

// SetCornerPoint records the sensor position of a corner without advancing the flow.
func (tc *TableCalibrator) SetCornerPoint(name Corner, p r3.Vector) error {
	for _, c := range CornerOrder {
		if c == name {
			tc.corners[name] = p
			tc.logger.Debugw("corner recorded", "corner", name, "point", p)
			return nil
		}
	}
	return errors.Errorf("unknown corner %q", name)
}

// AdvanceCalibrationStep records p for the current corner and moves to the next one. After the
// fourth corner the plane is fitted and done is true.
func (tc *TableCalibrator) AdvanceCalibrationStep(p r3.Vector) (done bool, err error) {
	corner, ok := tc.CurrentCorner()
	if !ok {
		return true, nil
	}
	if err := tc.SetCornerPoint(corner, p); err != nil {
		return false, err
	}
	tc.step++
	if tc.step < len(CornerOrder) {
		return false, nil
	}
	if err := tc.finalize(); err != nil {
		return false, err
	}
	return true, nil
}

func (tc *TableCalibrator) finalize() error {
	if len(tc.corners) < len(CornerOrder) {
		return errors.Wrapf(ErrInsufficientData, "have %d of 4 corners", len(tc.corners))
	}
	pts := make([]r3.Vector, 0, len(CornerOrder))
	meanZ := 0.0
	for _, c := range CornerOrder {
		pts = append(pts, tc.corners[c])
		meanZ += tc.corners[c].Z
	}
	plane, err := pointcloud.FitPlane(pts)
	if err != nil {
		return errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	coeffs := plane.Coefficients
	tc.plane = &coeffs
	tc.height = meanZ / float64(len(pts))
	tc.calibrated = true
	tc.logger.Infow("table calibrated from corners", "plane", coeffs, "height", tc.height)
	return nil
}

// DetectTablePlaneRANSAC finds the dominant plane close to perpendicular to opts.Up. The table
// height is where the plane crosses the up axis, or 0 when it nearly does not.
func (tc *TableCalibrator) DetectTablePlaneRANSAC(
	pts []r3.Vector,
	opts TableRANSACOptions,
	rng *rand.Rand,
) (*pointcloud.PlaneModel, error) {
	if len(pts) < minTablePoints {
		tc.logger.Warnw("too few points to detect the table", "points", len(pts))
		return nil, errors.Wrapf(ErrInsufficientData, "table detection needs %d points, got %d", minTablePoints, len(pts))
	}
	up := opts.Up
	if up.Norm() == 0 {
		up = r3.Vector{Z: 1}
	}
	plane, err := pointcloud.FindPlaneRANSAC(pts, pointcloud.RANSACOptions{
		DistanceThreshold: opts.DistanceThreshold,
		MaxIterations:     opts.MaxIterations,
		MinInliersRatio:   opts.MinInliersRatio,
		Vertical:          &pointcloud.VerticalityConstraint{Up: up, MinVerticality: opts.MinVerticality},
	}, rng)
	if err != nil {
		tc.logger.Warnw("no table plane found", "error", err)
		return nil, err
	}
	coeffs := plane.Coefficients
	tc.plane = &coeffs
	if h, ok := plane.AxisIntercept(up); ok {
		tc.height = h
	} else {
		tc.height = 0
	}
	tc.calibrated = true
	tc.logger.Infow("table plane detected",
		"normal", plane.Normal, "height", tc.height, "inliers", plane.NumInliers(), "points", len(pts))
	return plane, nil
}

// IsCalibrated is true once a plane has been found by either flow.
func (tc *TableCalibrator) IsCalibrated() bool {
	return tc.calibrated
}

// TablePlane returns the plane coefficients, or nil before calibration.
func (tc *TableCalibrator) TablePlane() *[4]float64 {
	return tc.plane
}

// TableHeight returns the calibrated height.
func (tc *TableCalibrator) TableHeight() float64 {
	return tc.height
}

// Reset forgets all corners and the plane.
func (tc *TableCalibrator) Reset() {
	tc.corners = map[Corner]r3.Vector{}
	tc.step = 0
	tc.plane = nil
	tc.height = 0
	tc.calibrated = false
	tc.logger.Debug("table calibration reset")
}

// TableStatus describes the progress of table calibration.
type TableStatus struct {
	IsCalibrated    bool        `json:"is_calibrated"`
	Step            int         `json:"calibration_step"`
	TotalSteps      int         `json:"total_steps"`
	CurrentCorner   Corner      `json:"current_corner,omitempty"`
	DetectedCorners []Corner    `json:"detected_corners"`
	TableHeight     *float64    `json:"table_height,omitempty"`
	TablePlane      *[4]float64 `json:"table_plane,omitempty"`
}

// Status reports the calibration progress.
func (tc *TableCalibrator) Status() TableStatus {
	st := TableStatus{
		IsCalibrated:    tc.calibrated,
		Step:            tc.step,
		TotalSteps:      len(CornerOrder),
		DetectedCorners: []Corner{},
		TablePlane:      tc.plane,
	}
	if c, ok := tc.CurrentCorner(); ok {
		st.CurrentCorner = c
	}
	for _, c := range CornerOrder {
		if _, ok := tc.corners[c]; ok {
			st.DetectedCorners = append(st.DetectedCorners, c)
		}
	}
	if tc.calibrated {
		h := tc.height
		st.TableHeight = &h
	}
	return st
}

// TableCalibration is the result of table calibration.
type TableCalibration struct {
	TablePlane   [4]float64           `json:"table_plane"`
	TableHeight  float64              `json:"table_height"`
	Corners      map[Corner]r3.Vector `json:"corners_3d"`
	ScreenWidth  int                  `json:"screen_width"`
	ScreenHeight int                  `json:"screen_height"`
}

// CalibrationData returns the result, or an error before calibration.
func (tc *TableCalibrator) CalibrationData() (*TableCalibration, error) {
	if !tc.calibrated || tc.plane == nil {
		return nil, errors.New("table is not calibrated")
	}
	corners := make(map[Corner]r3.Vector, len(tc.corners))
	for k, v := range tc.corners {
		corners[k] = v
	}
	return &TableCalibration{
		TablePlane:   *tc.plane,
		TableHeight:  tc.height,
		Corners:      corners,
		ScreenWidth:  tc.screenWidth,
		ScreenHeight: tc.screenHeight,
	}, nil
}

// ApplyTo stores the table plane, height and corners in cd.
func (tc *TableCalibration) ApplyTo(cd *CalibrationData) {
	plane := tc.TablePlane
	cd.TablePlane = &plane
	cd.TableHeight = tc.TableHeight
	if len(tc.Corners) == len(CornerOrder) {
		var pts [4]r3.Vector
		for i, c := range CornerOrder {
			pts[i] = tc.Corners[c]
		}
		cd.SensorPoints = &pts
	}
}
