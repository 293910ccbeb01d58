// Package transform holds the camera model of the depth sensor: pinhole intrinsics, lens
// distortion and planar homographies between image spaces.
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/tabletop/logging"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// CameraIntrinsics holds the pinhole parameters, the Brown-Conrady distortion coefficients and the
// quality of the calibration that produced them. Values are replaced wholesale, never edited.
type CameraIntrinsics struct {
	Fx  float64 `json:"fx"`
	Fy  float64 `json:"fy"`
	Ppx float64 `json:"cx"`
	Ppy float64 `json:"cy"`

	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`

	Width  int `json:"width"`
	Height int `json:"height"`

	CalibrationDate   string  `json:"calibration_date"`
	ReprojectionError float64 `json:"reprojection_error"`
	NumImagesUsed     int     `json:"num_images_used"`
}

// DefaultIntrinsics returns the factory calibration of a Kinect v1 depth camera.
func DefaultIntrinsics() *CameraIntrinsics {
	return &CameraIntrinsics{
		Fx:     594.21,
		Fy:     591.04,
		Ppx:    339.5,
		Ppy:    242.7,
		Width:  640,
		Height: 480,
	}
}

// CheckValid checks if the fields for CameraIntrinsics have valid inputs.
func (params *CameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal Y point Ppy = %#v", params.Ppy))
	}
	for _, v := range params.DistortionCoefficients() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNoIntrinsicsError("distortion coefficients are not finite")
		}
	}
	return nil
}

// DistortionCoefficients returns [k1, k2, p1, p2, k3].
func (params *CameraIntrinsics) DistortionCoefficients() []float64 {
	return []float64{params.K1, params.K2, params.P1, params.P2, params.K3}
}

// Distortion returns the forward lens model.
func (params *CameraIntrinsics) Distortion() *BrownConrady {
	return &BrownConrady{
		RadialK1:     params.K1,
		RadialK2:     params.K2,
		RadialK3:     params.K3,
		TangentialP1: params.P1,
		TangentialP2: params.P2,
	}
}

// HasDistortion is true when any distortion coefficient is non-zero.
func (params *CameraIntrinsics) HasDistortion() bool {
	for _, v := range params.DistortionCoefficients() {
		if v != 0 {
			return true
		}
	}
	return false
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *CameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToPoint back-projects pixel (u, v) at depth z.
func (params *CameraIntrinsics) PixelToPoint(u, v, z float64) r3.Vector {
	return r3.Vector{
		X: (u - params.Ppx) * z / params.Fx,
		Y: (v - params.Ppy) * z / params.Fy,
		Z: z,
	}
}

// PointToPixel projects a 3D point onto the image plane. The caller guards z.
func (params *CameraIntrinsics) PointToPixel(pt r3.Vector) r2.Point {
	return r2.Point{
		X: params.Fx*pt.X/pt.Z + params.Ppx,
		Y: params.Fy*pt.Y/pt.Z + params.Ppy,
	}
}

// Decimated returns the intrinsics of an image subsampled by an integer factor.
func (params CameraIntrinsics) Decimated(factor int) CameraIntrinsics {
	if factor <= 1 {
		return params
	}
	f := float64(factor)
	params.Fx /= f
	params.Fy /= f
	params.Ppx /= f
	params.Ppy /= f
	params.Width = (params.Width + factor - 1) / factor
	params.Height = (params.Height + factor - 1) / factor
	return params
}

// NewCameraIntrinsicsFromJSONFile reads intrinsics persisted with WriteJSONFile.
func NewCameraIntrinsicsFromJSONFile(jsonPath string) (*CameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)

	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := DefaultIntrinsics()
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}

// WriteJSONFile overwrites jsonPath with the intrinsics.
func (params *CameraIntrinsics) WriteJSONFile(jsonPath string) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return errors.Wrapf(os.WriteFile(jsonPath, data, 0o644), "error writing intrinsics to %q", jsonPath)
}

// LoadOrDefaultIntrinsics loads intrinsics from jsonPath, or returns the default when the file
// does not exist or cannot be used.
func LoadOrDefaultIntrinsics(jsonPath string, logger logging.Logger) *CameraIntrinsics {
	if jsonPath == "" {
		return DefaultIntrinsics()
	}
	if _, err := os.Stat(jsonPath); err != nil {
		logger.Debugw("no persisted intrinsics, using defaults", "path", jsonPath)
		return DefaultIntrinsics()
	}
	intrinsics, err := NewCameraIntrinsicsFromJSONFile(jsonPath)
	if err != nil {
		logger.Warnw("could not load intrinsics, using defaults", "path", jsonPath, "error", err)
		return DefaultIntrinsics()
	}
	logger.Infow("loaded intrinsics", "path", jsonPath, "reprojection_error", intrinsics.ReprojectionError)
	return intrinsics
}
