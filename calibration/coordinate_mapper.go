package calibration

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/rimage/transform"
)

// minProjectionDepth keeps the perspective divide away from zero.
const minProjectionDepth = 0.001

// DefaultScreenDepth is the depth screen points are lifted to when no table height is known.
const DefaultScreenDepth = 1.0

// CoordinateMapper converts between sensor space (meters), the depth image (pixels), the display
// (pixels) and normalized table coordinates. Transforms only read the calibration; a mapper
// has a single writer.
type CoordinateMapper struct {
	calibration *CalibrationData
	logger      logging.Logger
}

// NewCoordinateMapper wraps calibration, or a fresh default calibration when nil.
func NewCoordinateMapper(calibration *CalibrationData, logger logging.Logger) *CoordinateMapper {
	if calibration == nil {
		calibration = NewCalibrationData(nil)
	}
	return &CoordinateMapper{calibration: calibration, logger: logger}
}

// Calibration returns the data the mapper reads from.
func (cm *CoordinateMapper) Calibration() *CalibrationData {
	return cm.calibration
}

func (cm *CoordinateMapper) flip(p r3.Vector) r3.Vector {
	if cm.calibration.FlipX {
		p.X = -p.X
	}
	if cm.calibration.FlipY {
		p.Y = -p.Y
	}
	if cm.calibration.FlipZ {
		p.Z = -p.Z
	}
	return p
}

// Kinect3DToImage2D projects a sensor point onto the depth image after applying the axis flips.
// |z| is clamped to at least 1mm, keeping its sign.
func (cm *CoordinateMapper) Kinect3DToImage2D(p r3.Vector) r2.Point {
	q := cm.flip(p)
	if math.Abs(q.Z) < minProjectionDepth {
		if q.Z < 0 {
			q.Z = -minProjectionDepth
		} else {
			q.Z = minProjectionDepth
		}
	}
	return cm.calibration.Intrinsics.PointToPixel(q)
}

// Image2DToKinect3D lifts pixel uv at the given depth back into sensor space. It inverts
// Kinect3DToImage2D exactly for every flip combination.
func (cm *CoordinateMapper) Image2DToKinect3D(uv r2.Point, depth float64) r3.Vector {
	z := depth
	if cm.calibration.FlipZ {
		z = -depth
	}
	return cm.flip(cm.calibration.Intrinsics.PixelToPoint(uv.X, uv.Y, z))
}

// Kinect3DToScreen2D maps a sensor point onto the display. Without a homography the image
// projection is returned.
func (cm *CoordinateMapper) Kinect3DToScreen2D(p r3.Vector) r2.Point {
	img := cm.Kinect3DToImage2D(p)
	if cm.calibration.Homography == nil {
		cm.logger.Debug("no homography calibrated, returning image projection")
		return img
	}
	screen, ok := cm.calibration.Homography.Apply(img)
	if !ok {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return screen
}

// Screen2DToKinect3D lifts a display point onto the table through the inverse homography. The
// calibrated table height is used as depth, or defaultDepth when none is set.
func (cm *CoordinateMapper) Screen2DToKinect3D(s r2.Point, defaultDepth float64) (r3.Vector, error) {
	if cm.calibration.HomographyInverse == nil {
		return r3.Vector{}, ErrNoHomography
	}
	img, ok := cm.calibration.HomographyInverse.Apply(s)
	if !ok {
		return r3.Vector{}, errors.Wrapf(ErrDegenerateGeometry, "screen point %v maps to infinity", s)
	}
	depth := defaultDepth
	if cm.calibration.TableHeight > 0 {
		depth = cm.calibration.TableHeight
	}
	return cm.Image2DToKinect3D(img, depth), nil
}

// Kinect3DToTableNormalized maps a sensor point to display coordinates divided by the display
// size and clamped to [0, 1].
func (cm *CoordinateMapper) Kinect3DToTableNormalized(p r3.Vector) r2.Point {
	s := cm.Kinect3DToScreen2D(p)
	return r2.Point{
		X: clamp01(s.X / float64(cm.calibration.ScreenWidth)),
		Y: clamp01(s.Y / float64(cm.calibration.ScreenHeight)),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// ApplyRotation applies the calibrated rigid transform, if any.
func (cm *CoordinateMapper) ApplyRotation(p r3.Vector) r3.Vector {
	rot := cm.calibration.Rotation
	if rot == nil {
		return p
	}
	out := r3.Vector{
		X: rot[0][0]*p.X + rot[0][1]*p.Y + rot[0][2]*p.Z,
		Y: rot[1][0]*p.X + rot[1][1]*p.Y + rot[1][2]*p.Z,
		Z: rot[2][0]*p.X + rot[2][1]*p.Y + rot[2][2]*p.Z,
	}
	if cm.calibration.Translation != nil {
		out = out.Add(*cm.calibration.Translation)
	}
	return out
}

// SetRotation sets the rigid transform used by ApplyRotation. A nil translation means none.
func (cm *CoordinateMapper) SetRotation(rotation [3][3]float64, translation *r3.Vector) {
	cm.calibration.Rotation = &rotation
	if translation != nil {
		t := *translation
		cm.calibration.Translation = &t
	} else {
		cm.calibration.Translation = nil
	}
}

// SetFlip changes the axis flips that are not nil.
func (cm *CoordinateMapper) SetFlip(x, y, z *bool) {
	if x != nil {
		cm.calibration.FlipX = *x
	}
	if y != nil {
		cm.calibration.FlipY = *y
	}
	if z != nil {
		cm.calibration.FlipZ = *z
	}
	cm.logger.Infow("axis flips set",
		"x", cm.calibration.FlipX, "y", cm.calibration.FlipY, "z", cm.calibration.FlipZ)
}

// CalibrateHomography estimates the image to screen homography from at least 4 correspondences,
// robust to outliers with a 5 pixel reprojection threshold. The inverse is stored with it.
func (cm *CoordinateMapper) CalibrateHomography(src, dst []r2.Point, rng *rand.Rand) error {
	if len(src) < 4 || len(dst) < 4 {
		return errors.Wrapf(ErrInsufficientData, "homography needs 4 correspondences, got %d and %d", len(src), len(dst))
	}
	if len(src) != len(dst) {
		return errors.Errorf("mismatched correspondence counts %d != %d", len(src), len(dst))
	}
	h, mask, err := transform.EstimateHomographyRANSAC(src, dst, transform.DefaultHomographyRANSACOptions(), rng)
	if err != nil {
		cm.logger.Warnw("homography calibration failed", "error", err)
		return errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	if err := cm.calibration.SetHomography(h); err != nil {
		cm.logger.Warnw("homography calibration failed", "error", err)
		return errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	inliers := 0
	for _, in := range mask {
		if in {
			inliers++
		}
	}
	cm.calibration.CalibrationDate = calibrationTimestamp()
	cm.logger.Infow("homography calibrated", "correspondences", len(src), "inliers", inliers)
	return nil
}

// CalibrateFromCorners calibrates from the 4 table corners in sensor space, ordered TL, TR, BR,
// BL, paired with the corners of a width x height display.
func (cm *CoordinateMapper) CalibrateFromCorners(corners [4]r3.Vector, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid screen size %dx%d", width, height)
	}
	w, h := float64(width), float64(height)
	screen := [4]r2.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	src := make([]r2.Point, 0, 4)
	for _, c := range corners {
		src = append(src, cm.Kinect3DToImage2D(c))
	}
	if err := cm.CalibrateHomography(src, screen[:], nil); err != nil {
		return err
	}
	cm.calibration.ScreenWidth, cm.calibration.ScreenHeight = width, height
	cm.calibration.SensorPoints = &corners
	cm.calibration.ScreenPoints = &screen
	return nil
}

// IsPointInROI is true when p lies inside the region of interest, or no region is set.
func (cm *CoordinateMapper) IsPointInROI(p r3.Vector) bool {
	lo, hi := cm.calibration.ROIMin, cm.calibration.ROIMax
	if lo == nil || hi == nil {
		return true
	}
	return p.X >= lo.X && p.Y >= lo.Y && p.Z >= lo.Z &&
		p.X <= hi.X && p.Y <= hi.Y && p.Z <= hi.Z
}

// SetROI sets the region of interest.
func (cm *CoordinateMapper) SetROI(lo, hi r3.Vector) {
	cm.calibration.ROIMin, cm.calibration.ROIMax = &lo, &hi
	cm.logger.Infow("region of interest set", "min", lo, "max", hi)
}

// FlipStatus reports the axis flips.
type FlipStatus struct {
	X bool `json:"x"`
	Y bool `json:"y"`
	Z bool `json:"z"`
}

// Status summarizes which calibration artifacts are present.
type Status struct {
	HasIntrinsics bool       `json:"has_intrinsics"`
	HasHomography bool       `json:"has_homography"`
	HasTablePlane bool       `json:"has_table_plane"`
	HasROI        bool       `json:"has_roi"`
	Flip          FlipStatus `json:"flip"`
	ScreenWidth   int        `json:"screen_width"`
	ScreenHeight  int        `json:"screen_height"`
}

// CalibrationStatus reports what has been calibrated.
func (cm *CoordinateMapper) CalibrationStatus() Status {
	cd := cm.calibration
	return Status{
		HasIntrinsics: cd.Intrinsics != nil,
		HasHomography: cd.Homography != nil,
		HasTablePlane: cd.TablePlane != nil,
		HasROI:        cd.ROIMin != nil && cd.ROIMax != nil,
		Flip:          FlipStatus{X: cd.FlipX, Y: cd.FlipY, Z: cd.FlipZ},
		ScreenWidth:   cd.ScreenWidth,
		ScreenHeight:  cd.ScreenHeight,
	}
}

// SaveCalibration writes the calibration to path.
func (cm *CoordinateMapper) SaveCalibration(path string) error {
	if err := cm.calibration.Save(path); err != nil {
		return err
	}
	cm.logger.Infow("calibration saved", "path", path)
	return nil
}

// LoadCalibration replaces the calibration with the one stored at path. On error the current
// calibration is kept.
func (cm *CoordinateMapper) LoadCalibration(path string) error {
	cd, err := LoadCalibrationData(path)
	if err != nil {
		cm.logger.Warnw("could not load calibration", "path", path, "error", err)
		return err
	}
	cm.calibration = cd
	cm.logger.Infow("calibration loaded", "path", path)
	return nil
}

// SetTable records the table plane and height, e.g. from a TableCalibrator.
func (cm *CoordinateMapper) SetTable(plane [4]float64, height float64) {
	cm.calibration.TablePlane = &plane
	cm.calibration.TableHeight = height
}
