package pointcloud

import "github.com/pkg/errors"

var (
	// ErrInsufficientPoints is returned when an algorithm is given fewer points than it needs.
	ErrInsufficientPoints = errors.New("not enough points")
	// ErrNoPlane is returned when RANSAC finds no plane with enough support.
	ErrNoPlane = errors.New("no plane with enough inliers")
	// ErrPlaneNotVertical is returned when a detected plane's normal is too far from the up axis.
	ErrPlaneNotVertical = errors.New("plane normal is not close enough to the up axis")
)
