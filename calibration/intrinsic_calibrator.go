package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/rimage/transform"
)

// IntrinsicConfig describes the calibration target and how many views to collect.
type IntrinsicConfig struct {
	// BoardRows and BoardCols count inner corners.
	BoardRows  int     `json:"board_rows"`
	BoardCols  int     `json:"board_cols"`
	SquareSize float64 `json:"square_size"`
	MinImages  int     `json:"min_images"`
	MaxImages  int     `json:"max_images"`

	Detector DetectorOptions `json:"-"`
}

// DefaultIntrinsicConfig is a 9x6 inner corner board of 25mm squares.
func DefaultIntrinsicConfig() IntrinsicConfig {
	return IntrinsicConfig{
		BoardRows:  6,
		BoardCols:  9,
		SquareSize: 0.025,
		MinImages:  10,
		MaxImages:  30,
		Detector:   DefaultDetectorOptions(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *IntrinsicConfig) Validate(path string) error {
	if cfg.BoardRows < 2 || cfg.BoardCols < 2 {
		return errors.Errorf("%s: board needs at least 2x2 inner corners, got %dx%d", path, cfg.BoardCols, cfg.BoardRows)
	}
	if cfg.SquareSize <= 0 {
		return errors.Errorf("%s: square_size must be positive", path)
	}
	if cfg.MinImages < 3 {
		return errors.Errorf("%s: min_images must be at least 3", path)
	}
	if cfg.MaxImages < cfg.MinImages {
		return errors.Errorf("%s: max_images (%d) is below min_images (%d)", path, cfg.MaxImages, cfg.MinImages)
	}
	return nil
}

// IntrinsicCalibrator collects checkerboard views and solves for the camera intrinsics.
type IntrinsicCalibrator struct {
	cfg    IntrinsicConfig
	logger logging.Logger

	objectPoints []r2.Point
	imagePoints  [][]r2.Point
	imageSize    image.Point
	intrinsics   *transform.CameraIntrinsics
}

// NewIntrinsicCalibrator returns a calibrator for the board in cfg.
func NewIntrinsicCalibrator(cfg IntrinsicConfig, logger logging.Logger) (*IntrinsicCalibrator, error) {
	if err := cfg.Validate("intrinsics"); err != nil {
		return nil, err
	}
	if cfg.Detector == (DetectorOptions{}) {
		cfg.Detector = DefaultDetectorOptions()
	}
	obj := make([]r2.Point, 0, cfg.BoardRows*cfg.BoardCols)
	for r := 0; r < cfg.BoardRows; r++ {
		for c := 0; c < cfg.BoardCols; c++ {
			obj = append(obj, r2.Point{X: float64(c) * cfg.SquareSize, Y: float64(r) * cfg.SquareSize})
		}
	}
	logger.Debugw("intrinsic calibrator created",
		"board", []int{cfg.BoardCols, cfg.BoardRows}, "square_size", cfg.SquareSize)
	return &IntrinsicCalibrator{cfg: cfg, logger: logger, objectPoints: obj}, nil
}

// DetectCorners looks for the configured board in img.
func (ic *IntrinsicCalibrator) DetectCorners(img image.Image) (bool, []r2.Point) {
	return DetectCorners(img, ic.cfg.BoardRows, ic.cfg.BoardCols, ic.cfg.Detector)
}

// AddImage detects the board in img and keeps the view. It returns the detected corners.
func (ic *IntrinsicCalibrator) AddImage(img image.Image) ([]r2.Point, error) {
	if ic.NumImages() >= ic.cfg.MaxImages {
		return nil, errors.Errorf("already have the maximum of %d images", ic.cfg.MaxImages)
	}
	found, corners := ic.DetectCorners(img)
	if !found {
		ic.logger.Debug("checkerboard not found")
		return nil, errors.New("checkerboard not found in image")
	}
	if err := ic.AddObservation(corners, img.Bounds().Size()); err != nil {
		return nil, err
	}
	return corners, nil
}

// AddObservation keeps a view whose corners were detected elsewhere, ordered row by row.
func (ic *IntrinsicCalibrator) AddObservation(corners []r2.Point, size image.Point) error {
	if ic.NumImages() >= ic.cfg.MaxImages {
		return errors.Errorf("already have the maximum of %d images", ic.cfg.MaxImages)
	}
	if len(corners) != len(ic.objectPoints) {
		return errors.Errorf("expected %d corners, got %d", len(ic.objectPoints), len(corners))
	}
	if ic.NumImages() == 0 {
		ic.imageSize = size
	} else if size != ic.imageSize {
		return errors.Errorf("image size %v differs from first image %v", size, ic.imageSize)
	}
	ic.imagePoints = append(ic.imagePoints, append([]r2.Point(nil), corners...))
	ic.logger.Infof("calibration image %d added", ic.NumImages())
	return nil
}

// NumImages is the number of views collected.
func (ic *IntrinsicCalibrator) NumImages() int {
	return len(ic.imagePoints)
}

// Calibrate solves for the intrinsics from the collected views.
func (ic *IntrinsicCalibrator) Calibrate() (*CalibrationResult, error) {
	if ic.NumImages() < ic.cfg.MinImages {
		return nil, errors.Wrapf(ErrInsufficientData, "have %d images, need %d", ic.NumImages(), ic.cfg.MinImages)
	}
	ic.logger.Infof("calibrating with %d images", ic.NumImages())
	res, err := solveIntrinsics(ic.objectPoints, ic.imagePoints, ic.imageSize.X, ic.imageSize.Y)
	if err != nil {
		ic.logger.Warnw("calibration failed", "error", err)
		return nil, err
	}
	ic.intrinsics = res.Intrinsics
	ic.logger.Infow("calibration succeeded",
		"rms_error", res.RMSError,
		"fx", res.Intrinsics.Fx, "fy", res.Intrinsics.Fy,
		"cx", res.Intrinsics.Ppx, "cy", res.Intrinsics.Ppy)
	return res, nil
}

// Intrinsics returns the last calibration result, or nil.
func (ic *IntrinsicCalibrator) Intrinsics() *transform.CameraIntrinsics {
	return ic.intrinsics
}

// UndistortImage removes lens distortion from img. Without a calibration img is returned as is.
func (ic *IntrinsicCalibrator) UndistortImage(img image.Image) (image.Image, error) {
	if ic.intrinsics == nil {
		ic.logger.Warn("no calibration available, image left distorted")
		return img, nil
	}
	out, err := ic.intrinsics.UndistortImage(img)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveIntrinsics writes the last calibration result to path.
func (ic *IntrinsicCalibrator) SaveIntrinsics(path string) error {
	if ic.intrinsics == nil {
		return transform.NewNoIntrinsicsError("nothing calibrated yet")
	}
	if err := ic.intrinsics.WriteJSONFile(path); err != nil {
		return err
	}
	ic.logger.Infow("intrinsics saved", "path", path)
	return nil
}

// Reset drops all views and the result.
func (ic *IntrinsicCalibrator) Reset() {
	ic.imagePoints = nil
	ic.imageSize = image.Point{}
	ic.intrinsics = nil
	ic.logger.Debug("intrinsic calibrator reset")
}

// IntrinsicStatus summarizes the calibrator.
type IntrinsicStatus struct {
	ImagesCaptured    int      `json:"images_captured"`
	MinImages         int      `json:"min_images"`
	MaxImages         int      `json:"max_images"`
	ReadyToCalibrate  bool     `json:"ready_to_calibrate"`
	Calibrated        bool     `json:"calibrated"`
	ReprojectionError *float64 `json:"reprojection_error,omitempty"`
}

// Status reports collection progress.
func (ic *IntrinsicCalibrator) Status() IntrinsicStatus {
	st := IntrinsicStatus{
		ImagesCaptured:   ic.NumImages(),
		MinImages:        ic.cfg.MinImages,
		MaxImages:        ic.cfg.MaxImages,
		ReadyToCalibrate: ic.NumImages() >= ic.cfg.MinImages,
		Calibrated:       ic.intrinsics != nil,
	}
	if ic.intrinsics != nil {
		e := ic.intrinsics.ReprojectionError
		st.ReprojectionError = &e
	}
	return st
}
