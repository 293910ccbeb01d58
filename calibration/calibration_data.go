// Package calibration relates the depth sensor, its image and the projected display: camera
// intrinsics from checkerboard views, the table plane, and the image to screen homography.
package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/rimage/transform"
)

// Default display size the table is projected onto.
const (
	DefaultScreenWidth  = 1920
	DefaultScreenHeight = 1080
)

// CalibrationData is everything learned about the installation. Optional artifacts are nil until
// calibrated and stay nil across a save and load.
type CalibrationData struct {
	Intrinsics *transform.CameraIntrinsics `json:"intrinsics"`

	// TablePlane is [a, b, c, d] for ax + by + cz + d = 0.
	TablePlane  *[4]float64 `json:"table_plane,omitempty"`
	TableHeight float64     `json:"table_height"`

	Homography        *transform.Homography `json:"homography,omitempty"`
	HomographyInverse *transform.Homography `json:"homography_inverse,omitempty"`

	// SensorPoints are the table corners in sensor space, ordered TL, TR, BR, BL.
	SensorPoints *[4]r3.Vector `json:"kinect_points,omitempty"`
	ScreenPoints *[4]r2.Point  `json:"screen_points,omitempty"`

	ROIMin *r3.Vector `json:"roi_min,omitempty"`
	ROIMax *r3.Vector `json:"roi_max,omitempty"`

	Rotation    *[3][3]float64 `json:"rotation_matrix,omitempty"`
	Translation *r3.Vector     `json:"translation_vector,omitempty"`

	FlipX bool `json:"flip_x"`
	FlipY bool `json:"flip_y"`
	FlipZ bool `json:"flip_z"`

	CalibrationDate string `json:"calibration_date"`
	ScreenWidth     int    `json:"screen_width"`
	ScreenHeight    int    `json:"screen_height"`
}

// NewCalibrationData returns an uncalibrated installation using intrinsics, or the sensor
// defaults when intrinsics is nil. Y is flipped since the sensor's image rows grow downward.
func NewCalibrationData(intrinsics *transform.CameraIntrinsics) *CalibrationData {
	if intrinsics == nil {
		intrinsics = transform.DefaultIntrinsics()
	}
	return &CalibrationData{
		Intrinsics:   intrinsics,
		FlipY:        true,
		ScreenWidth:  DefaultScreenWidth,
		ScreenHeight: DefaultScreenHeight,
	}
}

// SetHomography stores h together with its inverse. It is the only way the pair is written.
func (cd *CalibrationData) SetHomography(h *transform.Homography) error {
	if h == nil {
		cd.Homography, cd.HomographyInverse = nil, nil
		return nil
	}
	inv, err := h.Inverse()
	if err != nil {
		return errors.Wrap(err, "homography is not invertible")
	}
	hCopy := *h
	cd.Homography, cd.HomographyInverse = &hCopy, inv
	return nil
}

// Save overwrites path with the calibration as indented JSON, creating parent directories.
func (cd *CalibrationData) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrapf(err, "cannot create directory for %q", path)
		}
	}
	data, err := json.MarshalIndent(cd, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode calibration")
	}
	//nolint:gosec
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "cannot write calibration to %q", path)
}

// LoadCalibrationData reads a file written by Save. Fields missing from the file keep their
// defaults and the inverse homography is recomputed.
func LoadCalibrationData(path string) (*CalibrationData, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read calibration %q", path)
	}
	cd := NewCalibrationData(nil)
	if err := json.Unmarshal(data, cd); err != nil {
		return nil, errors.Wrapf(err, "cannot parse calibration %q", path)
	}
	if cd.Intrinsics == nil {
		cd.Intrinsics = transform.DefaultIntrinsics()
	}
	if err := cd.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	// The stored inverse is never trusted; it is always derived from the homography.
	cd.HomographyInverse = nil
	if cd.Homography != nil {
		if err := cd.SetHomography(cd.Homography); err != nil {
			return nil, err
		}
	}
	return cd, nil
}

func calibrationTimestamp() string {
	return time.Now().Format(time.RFC3339)
}
