package pointcloud

import (
	"context"
	"image"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
)

func TestSegmentPlaneRANSAC(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	pts := tablePlusNoise(rand.New(rand.NewSource(9)), 1000, 100, 0.9)

	plane, rest, err := p.SegmentPlaneRANSAC(New(pts, nil), DefaultRANSACOptions(), rand.New(rand.NewSource(1)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plane.NumInliers(), test.ShouldEqual, 1000)
	test.That(t, rest.NumPoints(), test.ShouldEqual, 100)
	for _, pt := range rest.Points {
		test.That(t, pt.Z, test.ShouldBeGreaterThan, 0.9)
	}

	few := New(pts[:2], nil)
	plane, rest, err = p.SegmentPlaneRANSAC(few, DefaultRANSACOptions(), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, plane, test.ShouldBeNil)
	test.That(t, rest, test.ShouldEqual, few)
}

func TestSegmentTablePlane(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))

	// points above the band come first so inlier indices must be mapped back
	var pts []r3.Vector
	for i := 0; i < 10; i++ {
		pts = append(pts, r3.Vector{X: float64(i) * 0.1, Z: 3})
	}
	pts = append(pts, gridPoints(20, 20, 0.02, 1.0, r3.Vector{})...)

	plane, rest, err := p.SegmentTablePlane(New(pts, nil), DefaultTableSegmentationOptions(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plane.NumInliers(), test.ShouldEqual, 400)
	test.That(t, plane.Inliers[0], test.ShouldEqual, 10)
	test.That(t, plane.Inliers[399], test.ShouldEqual, 409)
	test.That(t, rest.NumPoints(), test.ShouldEqual, 10)
	for _, pt := range rest.Points {
		test.That(t, pt.Z, test.ShouldEqual, 3)
	}
	h, ok := plane.AxisIntercept(r3.Vector{Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, h, test.ShouldAlmostEqual, 1.0, 1e-9)
}

func TestSegmentTablePlaneRejects(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))

	var wall []r3.Vector
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			wall = append(wall, r3.Vector{X: 1, Y: float64(i) * 0.05, Z: 0.6 + float64(j)*0.05})
		}
	}
	_, _, err := p.SegmentTablePlane(New(wall, nil), DefaultTableSegmentationOptions(), nil)
	test.That(t, errors.Is(err, ErrPlaneNotVertical), test.ShouldBeTrue)

	_, _, err = p.SegmentTablePlane(New(wall[:50], nil), DefaultTableSegmentationOptions(), nil)
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)

	low := New(gridPoints(20, 20, 0.02, 0.2, r3.Vector{}), nil)
	_, _, err = p.SegmentTablePlane(low, DefaultTableSegmentationOptions(), nil)
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)
}

// tableScene renders a 640x480 raw frame of a table at 1.5 m with a 50x50 pixel box top at
// 1.3 m in the middle.
func tableScene() *DepthFrame {
	depth := NewDepthFrame(640, 480)
	depth.Fill(image.Rect(0, 0, 640, 480), MetersToRaw(1.5))
	depth.Fill(image.Rect(295, 215, 345, 265), MetersToRaw(1.3))
	return depth
}

func TestProcessForTableEndToEnd(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := DefaultGeneratorConfig()
	cfg.MinDepth, cfg.MaxDepth = 0.5, 4.0
	g, err := NewGenerator(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	pc := g.DepthToPointCloud(tableScene(), nil, 1)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 640*480)

	p := NewProcessor(logger)
	result, err := p.ProcessForTable(context.Background(), pc, DefaultProcessOptions())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, result.TablePlane, test.ShouldNotBeNil)
	test.That(t, result.TableHeight, test.ShouldAlmostEqual, 1.5, 0.01)
	test.That(t, result.TablePlane.Verticality(r3.Vector{Z: 1}), test.ShouldAlmostEqual, 1, 1e-6)

	test.That(t, len(result.Objects), test.ShouldEqual, 1)
	test.That(t, result.Objects[0].Centroid().Z, test.ShouldAlmostEqual, 1.3, 0.01)
	test.That(t, result.Objects[0].NumPoints(), test.ShouldBeGreaterThanOrEqualTo, 50)

	test.That(t, result.Stats[StatPointsAfterVoxel], test.ShouldBeLessThan, pc.NumPoints())
	test.That(t, result.Stats[StatPointsAfterFilter], test.ShouldBeLessThanOrEqualTo, result.Stats[StatPointsAfterVoxel])
	test.That(t, result.Stats[StatTableInliers], test.ShouldBeGreaterThan, 0)
	test.That(t, result.Stats[StatNumObjects], test.ShouldEqual, 1)
	test.That(t, result.Processed.NumPoints(), test.ShouldEqual, result.Stats[StatPointsAfterFilter])
}

func TestProcessForTableNoTable(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	pts := blob(r3.Vector{Z: 3}, 8, 8)

	result, err := p.ProcessForTable(context.Background(), New(pts, nil), DefaultProcessOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.TablePlane, test.ShouldBeNil)
	test.That(t, result.TableHeight, test.ShouldEqual, 0)
	test.That(t, result.Stats[StatTableInliers], test.ShouldEqual, 0)

	result, err = p.ProcessForTable(context.Background(), NewEmpty(), DefaultProcessOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Objects, test.ShouldBeEmpty)
}

func TestProcessForTableCanceled(t *testing.T) {
	p := NewProcessor(logging.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ProcessForTable(ctx, New(blob(r3.Vector{Z: 1}, 5, 5), nil), DefaultProcessOptions())
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	opts := DefaultProcessOptions()
	opts.VoxelSize = 0
	_, err = p.ProcessForTable(context.Background(), NewEmpty(), opts)
	test.That(t, err, test.ShouldNotBeNil)
}
