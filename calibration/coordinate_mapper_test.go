package calibration

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/rimage/transform"
)

func TestProjectionInverseAllFlips(t *testing.T) {
	pts := []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 1.5},
		{X: -0.4, Y: 0.3, Z: 0.8},
		{X: 0, Y: 0, Z: 2.7},
		{X: 0.25, Y: 0.25, Z: -1.1},
	}
	for _, fx := range []bool{false, true} {
		for _, fy := range []bool{false, true} {
			for _, fz := range []bool{false, true} {
				cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
				cm.SetFlip(&fx, &fy, &fz)
				for _, p := range pts {
					uv := cm.Kinect3DToImage2D(p)
					back := cm.Image2DToKinect3D(uv, p.Z)
					test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
					test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-9)
					test.That(t, back.Z, test.ShouldAlmostEqual, p.Z, 1e-9)
				}
			}
		}
	}
}

func TestProjectionClampsDepth(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
	intr := cm.Calibration().Intrinsics

	uv := cm.Kinect3DToImage2D(r3.Vector{X: 0.001, Y: 0, Z: 0})
	test.That(t, math.IsInf(uv.X, 0), test.ShouldBeFalse)
	test.That(t, uv.X, test.ShouldAlmostEqual, intr.Fx+intr.Ppx)

	// the sign of z survives the clamp
	uv = cm.Kinect3DToImage2D(r3.Vector{X: 0.001, Y: 0, Z: -0.0001})
	test.That(t, uv.X, test.ShouldAlmostEqual, -intr.Fx+intr.Ppx)

	// y is flipped by default
	uv = cm.Kinect3DToImage2D(r3.Vector{X: 0, Y: 0.5, Z: 1})
	test.That(t, uv.Y, test.ShouldAlmostEqual, -0.5*intr.Fy+intr.Ppy)
}

func knownHomography() *transform.Homography {
	return &transform.Homography{
		{2.1, 0.15, 30},
		{-0.05, 1.9, 12},
		{0.0002, 0.0001, 1},
	}
}

func TestCalibrateHomography(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))

	err := cm.CalibrateHomography([]r2.Point{{}, {X: 1}, {Y: 1}}, []r2.Point{{}, {X: 1}, {Y: 1}}, nil)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, cm.Calibration().Homography, test.ShouldBeNil)

	truth := knownHomography()
	var src, dst []r2.Point
	for y := 40.0; y < 480; y += 80 {
		for x := 40.0; x < 640; x += 90 {
			p := r2.Point{X: x, Y: y}
			q, ok := truth.Apply(p)
			test.That(t, ok, test.ShouldBeTrue)
			src = append(src, p)
			dst = append(dst, q)
		}
	}
	// one gross outlier
	dst[3] = dst[3].Add(r2.Point{X: 200, Y: -150})

	test.That(t, cm.CalibrateHomography(src, dst, nil), test.ShouldBeNil)
	h := cm.Calibration().Homography
	test.That(t, h, test.ShouldNotBeNil)
	test.That(t, cm.Calibration().HomographyInverse, test.ShouldNotBeNil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, h[r][c], test.ShouldAlmostEqual, truth[r][c], 1e-6)
		}
	}
	test.That(t, cm.CalibrationStatus().HasHomography, test.ShouldBeTrue)
}

func TestScreenRoundTrip(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
	p := r3.Vector{X: 0.2, Y: -0.1, Z: 1.4}

	// without a homography the image projection is used
	test.That(t, cm.Kinect3DToScreen2D(p), test.ShouldResemble, cm.Kinect3DToImage2D(p))
	_, err := cm.Screen2DToKinect3D(r2.Point{X: 10, Y: 10}, DefaultScreenDepth)
	test.That(t, errors.Is(err, ErrNoHomography), test.ShouldBeTrue)

	test.That(t, cm.Calibration().SetHomography(knownHomography()), test.ShouldBeNil)

	// no table height, so the default depth is used
	s := cm.Kinect3DToScreen2D(p)
	back, err := cm.Screen2DToKinect3D(s, p.Z)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-9)
	test.That(t, back.Z, test.ShouldAlmostEqual, p.Z, 1e-9)

	cm.SetTable([4]float64{0, 0, 1, -1.4}, 1.4)
	back, err = cm.Screen2DToKinect3D(s, 99)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Z, test.ShouldAlmostEqual, 1.4)
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
}

func tableCorners() [4]r3.Vector {
	return [4]r3.Vector{
		{X: -0.5, Y: -0.3, Z: 1.5},
		{X: 0.5, Y: -0.3, Z: 1.5},
		{X: 0.5, Y: 0.3, Z: 1.5},
		{X: -0.5, Y: 0.3, Z: 1.5},
	}
}

func TestCalibrateFromCorners(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
	corners := tableCorners()

	test.That(t, cm.CalibrateFromCorners(corners, 0, 1080), test.ShouldNotBeNil)
	test.That(t, cm.CalibrateFromCorners(corners, 1280, 720), test.ShouldBeNil)

	cd := cm.Calibration()
	test.That(t, cd.ScreenWidth, test.ShouldEqual, 1280)
	test.That(t, cd.ScreenHeight, test.ShouldEqual, 720)
	test.That(t, *cd.SensorPoints, test.ShouldResemble, corners)
	test.That(t, cd.ScreenPoints[2], test.ShouldResemble, r2.Point{X: 1280, Y: 720})

	for i, c := range corners {
		s := cm.Kinect3DToScreen2D(c)
		test.That(t, s.X, test.ShouldAlmostEqual, cd.ScreenPoints[i].X, 1e-6)
		test.That(t, s.Y, test.ShouldAlmostEqual, cd.ScreenPoints[i].Y, 1e-6)
	}

	n := cm.Kinect3DToTableNormalized(r3.Vector{Z: 1.5})
	test.That(t, n.X, test.ShouldAlmostEqual, 0.5, 1e-6)
	test.That(t, n.Y, test.ShouldAlmostEqual, 0.5, 1e-6)

	n = cm.Kinect3DToTableNormalized(r3.Vector{X: 3, Y: -3, Z: 1.5})
	test.That(t, n.X, test.ShouldEqual, 1)
	test.That(t, n.Y, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, n.Y, test.ShouldBeLessThanOrEqualTo, 1)
}

func TestROIAndRotation(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
	test.That(t, cm.IsPointInROI(r3.Vector{X: 100}), test.ShouldBeTrue)
	test.That(t, cm.CalibrationStatus().HasROI, test.ShouldBeFalse)

	cm.SetROI(r3.Vector{X: -1, Y: -1, Z: 0.5}, r3.Vector{X: 1, Y: 1, Z: 2})
	test.That(t, cm.IsPointInROI(r3.Vector{Z: 1}), test.ShouldBeTrue)
	test.That(t, cm.IsPointInROI(r3.Vector{X: 1, Y: 1, Z: 2}), test.ShouldBeTrue)
	test.That(t, cm.IsPointInROI(r3.Vector{Z: 2.1}), test.ShouldBeFalse)
	test.That(t, cm.CalibrationStatus().HasROI, test.ShouldBeTrue)

	p := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, cm.ApplyRotation(p), test.ShouldResemble, p)

	// 90 degrees about z
	cm.SetRotation([3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}, &r3.Vector{Z: 0.5})
	test.That(t, cm.ApplyRotation(p), test.ShouldResemble, r3.Vector{X: -2, Y: 1, Z: 3.5})
	cm.SetRotation([3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, nil)
	test.That(t, cm.ApplyRotation(p), test.ShouldResemble, p)
}

func TestSetFlipPartial(t *testing.T) {
	cm := NewCoordinateMapper(nil, logging.NewTestLogger(t))
	test.That(t, cm.CalibrationStatus().Flip, test.ShouldResemble, FlipStatus{Y: true})

	on := true
	cm.SetFlip(&on, nil, nil)
	test.That(t, cm.CalibrationStatus().Flip, test.ShouldResemble, FlipStatus{X: true, Y: true})
	off := false
	cm.SetFlip(nil, &off, &on)
	test.That(t, cm.CalibrationStatus().Flip, test.ShouldResemble, FlipStatus{X: true, Z: true})
}

func TestCalibrationPersistence(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "calibration.json")

	cm := NewCoordinateMapper(nil, logger)
	test.That(t, cm.SaveCalibration(path), test.ShouldBeNil)

	loaded := NewCoordinateMapper(nil, logger)
	test.That(t, loaded.LoadCalibration(path), test.ShouldBeNil)
	cd := loaded.Calibration()
	test.That(t, cd.Homography, test.ShouldBeNil)
	test.That(t, cd.HomographyInverse, test.ShouldBeNil)
	test.That(t, cd.TablePlane, test.ShouldBeNil)
	test.That(t, cd.ROIMin, test.ShouldBeNil)
	test.That(t, cd.Rotation, test.ShouldBeNil)
	test.That(t, cd.SensorPoints, test.ShouldBeNil)
	test.That(t, cd.FlipY, test.ShouldBeTrue)
	test.That(t, cd.ScreenWidth, test.ShouldEqual, DefaultScreenWidth)
	test.That(t, cd.Intrinsics, test.ShouldResemble, transform.DefaultIntrinsics())

	test.That(t, cm.CalibrateFromCorners(tableCorners(), 1920, 1080), test.ShouldBeNil)
	cm.SetTable([4]float64{0, 0, 1, -1.5}, 1.5)
	cm.SetROI(r3.Vector{X: -1}, r3.Vector{X: 1, Y: 1, Z: 2})
	test.That(t, cm.SaveCalibration(path), test.ShouldBeNil)

	test.That(t, loaded.LoadCalibration(path), test.ShouldBeNil)
	cd = loaded.Calibration()
	test.That(t, cd.Homography, test.ShouldResemble, cm.Calibration().Homography)
	test.That(t, cd.HomographyInverse, test.ShouldResemble, cm.Calibration().HomographyInverse)
	test.That(t, cd.TablePlane, test.ShouldResemble, cm.Calibration().TablePlane)
	test.That(t, cd.TableHeight, test.ShouldEqual, 1.5)
	test.That(t, cd.SensorPoints, test.ShouldResemble, cm.Calibration().SensorPoints)
	test.That(t, cd.ROIMax, test.ShouldResemble, &r3.Vector{X: 1, Y: 1, Z: 2})
	test.That(t, cd.Rotation, test.ShouldBeNil)

	status := loaded.CalibrationStatus()
	test.That(t, status.HasHomography, test.ShouldBeTrue)
	test.That(t, status.HasTablePlane, test.ShouldBeTrue)

	// a failed load keeps the current calibration
	err := loaded.LoadCalibration(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, loaded.Calibration().Homography, test.ShouldNotBeNil)
}

func TestLoadRecomputesHomographyInverse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	cd := NewCalibrationData(nil)
	h, err := transform.NewHomography([]float64{2, 0, 10, 0, 3, -6, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cd.SetHomography(h), test.ShouldBeNil)
	cd.HomographyInverse[0][0] = 7
	test.That(t, cd.Save(path), test.ShouldBeNil)

	loaded, err := LoadCalibrationData(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.HomographyInverse, test.ShouldNotBeNil)
	test.That(t, loaded.HomographyInverse.At(0, 0), test.ShouldAlmostEqual, 0.5, 1e-12)
	test.That(t, loaded.HomographyInverse.At(1, 1), test.ShouldAlmostEqual, 1.0/3, 1e-12)
	test.That(t, loaded.HomographyInverse.At(0, 2), test.ShouldAlmostEqual, -5, 1e-12)
	test.That(t, loaded.HomographyInverse.At(1, 2), test.ShouldAlmostEqual, 2, 1e-12)

	screen, ok := loaded.Homography.Apply(r2.Point{X: 4, Y: 5})
	test.That(t, ok, test.ShouldBeTrue)
	back, ok := loaded.HomographyInverse.Apply(screen)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, back.X, test.ShouldAlmostEqual, 4, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, 5, 1e-9)

	// an inverse without a homography is dropped
	cd.Homography = nil
	test.That(t, cd.Save(path), test.ShouldBeNil)
	loaded, err = LoadCalibrationData(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.HomographyInverse, test.ShouldBeNil)
}
