package calibration

import "github.com/pkg/errors"

var (
	// ErrInsufficientData is returned when a calibration step is given fewer observations than it needs.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrDegenerateGeometry is returned when the observations do not determine a solution.
	ErrDegenerateGeometry = errors.New("degenerate calibration geometry")
	// ErrNoHomography is returned by screen space transforms before a homography is calibrated.
	ErrNoHomography = errors.New("no homography calibrated")
)
