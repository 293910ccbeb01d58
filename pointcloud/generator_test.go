package pointcloud

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
)

func TestRawToMeters(t *testing.T) {
	_, ok := RawToMeters(0)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = RawToMeters(RawSaturated)
	test.That(t, ok, test.ShouldBeFalse)

	m, ok := RawToMeters(MetersToRaw(1.5))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m, test.ShouldAlmostEqual, 1.5, 0.005)

	prev := 0.0
	for raw := uint16(400); raw < 1050; raw++ {
		m, ok := RawToMeters(raw)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, m, test.ShouldBeGreaterThan, prev)
		test.That(t, MetersToRaw(m), test.ShouldEqual, raw)
		prev = m
	}
}

func mmGenerator(t *testing.T) *Generator {
	t.Helper()
	cfg := DefaultGeneratorConfig()
	cfg.Mode = DepthModeMillimeter
	cfg.MinDepth, cfg.MaxDepth = 0.5, 4.0
	g, err := NewGenerator(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return g
}

func TestDepthToPointCloudMillimeters(t *testing.T) {
	g := mmGenerator(t)
	depth := NewDepthFrame(4, 3)
	for i := range depth.Data {
		depth.Data[i] = 1500
	}
	depth.Set(0, 0, 0)
	depth.Set(1, 0, 9000)
	depth.Set(2, 0, 400)

	pc := g.DepthToPointCloud(depth, nil, 1)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 9)
	test.That(t, pc.HasColors(), test.ShouldBeFalse)

	intr := g.Intrinsics()
	want := intr.PixelToPoint(3, 0, 1.5)
	test.That(t, pc.Points[0], test.ShouldResemble, want)
	for _, pt := range pc.Points {
		test.That(t, pt.Z, test.ShouldEqual, 1.5)
	}
}

func TestDepthToPointCloudRaw(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	g, err := NewGenerator(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	depth := NewDepthFrame(4, 4)
	for i := range depth.Data {
		depth.Data[i] = MetersToRaw(2)
	}
	depth.Set(3, 3, RawSaturated)
	pc := g.DepthToPointCloud(depth, nil, 1)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 15)
	test.That(t, pc.Points[0].Z, test.ShouldAlmostEqual, 2, 0.01)

	test.That(t, g.SetDepthRange(0.5, 1.5), test.ShouldBeNil)
	test.That(t, g.DepthToPointCloud(depth, nil, 1).NumPoints(), test.ShouldEqual, 0)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 15)
	test.That(t, g.SetDepthRange(2, 1), test.ShouldNotBeNil)
}

func TestDepthToPointCloudDownsample(t *testing.T) {
	g := mmGenerator(t)
	depth := NewDepthFrame(640, 480)
	for i := range depth.Data {
		depth.Data[i] = 2000
	}
	pc := g.DepthToPointCloud(depth, nil, 2)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 320*240)

	full := g.Intrinsics()
	// decimated pixel (1, 1) is full resolution pixel (2, 2)
	want := full.PixelToPoint(2, 2, 2)
	got := pc.Points[320+1]
	test.That(t, got.X, test.ShouldAlmostEqual, want.X)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y)
}

func TestDepthToPointCloudColors(t *testing.T) {
	g := mmGenerator(t)
	depth := NewDepthFrame(4, 3)
	for i := range depth.Data {
		depth.Data[i] = 1000
	}
	depth.Set(1, 1, 0)

	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(50 * x), B: 0, A: 255})
		}
	}
	pc := g.DepthToPointCloud(depth, img, 1)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 11)
	test.That(t, pc.HasColors(), test.ShouldBeTrue)
	r, gr, b := pc.Colors[2].RGB255()
	test.That(t, r, test.ShouldEqual, 255)
	test.That(t, gr, test.ShouldEqual, 100)
	test.That(t, b, test.ShouldEqual, 0)

	// a color frame of another size is rescaled first
	big := ResizeColor(img, 8, 6)
	test.That(t, big.Bounds().Dx(), test.ShouldEqual, 8)
	pc = g.DepthToPointCloud(depth, big, 1)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 11)
	test.That(t, len(pc.Colors), test.ShouldEqual, 11)
}

func TestDepthToPointCloudInvalidInput(t *testing.T) {
	g := mmGenerator(t)
	test.That(t, g.DepthToPointCloud(nil, nil, 1).NumPoints(), test.ShouldEqual, 0)
	test.That(t, g.DepthToPointCloud(&DepthFrame{Width: 4, Height: 4}, nil, 1).NumPoints(), test.ShouldEqual, 0)

	gray := image.NewGray16(image.Rect(0, 0, 2, 2))
	gray.SetGray16(1, 1, color.Gray16{Y: 1200})
	df := NewDepthFrameFromGray16(gray)
	pc := g.DepthToPointCloud(df, nil, 0)
	test.That(t, pc.NumPoints(), test.ShouldEqual, 1)
	test.That(t, pc.Points[0].Z, test.ShouldAlmostEqual, 1.2)
}

func TestGeneratorConfig(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	cfg.Mode = "kinect2"
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	g := mmGenerator(t)
	test.That(t, g.SetIntrinsics(500, 500, 320, 240), test.ShouldBeNil)
	test.That(t, g.Intrinsics().Fx, test.ShouldEqual, 500)
	test.That(t, g.SetIntrinsics(0, 500, 320, 240), test.ShouldNotBeNil)
	test.That(t, g.Intrinsics().Fx, test.ShouldEqual, 500)
}

func TestColorizers(t *testing.T) {
	g := mmGenerator(t)
	depth := NewDepthFrame(3, 1)
	depth.Data = []uint16{1000, 2000, 3000}

	pc := g.DepthColored(depth, ColormapJet, 1)
	test.That(t, pc.Colors[0], test.ShouldResemble, ColormapJet.Color(0))
	test.That(t, pc.Colors[2].R, test.ShouldAlmostEqual, ColormapJet.Color(1).R, 1e-3)
	test.That(t, pc.Colors[1], test.ShouldNotResemble, pc.Colors[0])

	pc = g.HeightColored(depth, 0, ColormapViridis, 1)
	test.That(t, len(pc.Colors), test.ShouldEqual, 3)

	for _, cm := range []Colormap{ColormapJet, ColormapViridis, ColormapPlasma, ColormapTurbo, ColormapHot, ColormapCool} {
		test.That(t, cm.Validate(), test.ShouldBeNil)
		for _, v := range []float64{-1, 0, 0.33, 0.5, 1, 2} {
			c := cm.Color(v)
			for _, ch := range []float64{c.R, c.G, c.B} {
				test.That(t, ch, test.ShouldBeGreaterThanOrEqualTo, 0)
				test.That(t, ch, test.ShouldBeLessThanOrEqualTo, 1)
				test.That(t, math.IsNaN(ch), test.ShouldBeFalse)
			}
		}
	}
	test.That(t, Colormap("rainbow").Validate(), test.ShouldNotBeNil)
	test.That(t, Colormap("rainbow").Color(0), test.ShouldResemble, ColormapJet.Color(0))
	hot := ColormapHot.Color(0)
	test.That(t, hot, test.ShouldResemble, Color{})
}
