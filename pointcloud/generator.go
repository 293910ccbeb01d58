package pointcloud

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/rimage/transform"
)

// DepthMode selects how depth samples are converted to meters.
type DepthMode string

const (
	// DepthModeRaw11Bit is the 11 bit disparity code of a first generation Kinect.
	DepthModeRaw11Bit = DepthMode("raw11")
	// DepthModeMillimeter is a linear depth divided by the depth scale.
	DepthModeMillimeter = DepthMode("mm")
)

// RawSaturated is the 11 bit code the sensor reports when it has no reading.
const RawSaturated = 2047

// RawToMeters converts an 11 bit Kinect code with the tangent fit published by OpenKinect. ok
// is false for 0 and saturated codes.
func RawToMeters(raw uint16) (float64, bool) {
	if raw == 0 || raw >= RawSaturated {
		return 0, false
	}
	return 0.1236 * math.Tan(float64(raw)/2842.5+1.1863), true
}

// MetersToRaw is the inverse of RawToMeters, rounded to the nearest code.
func MetersToRaw(meters float64) uint16 {
	raw := (math.Atan(meters/0.1236) - 1.1863) * 2842.5
	if raw <= 0 {
		return 0
	}
	if raw >= RawSaturated {
		return RawSaturated
	}
	return uint16(math.Round(raw))
}

// DepthFrame is a row major grid of depth samples in sensor units.
type DepthFrame struct {
	Width, Height int
	Data          []uint16
}

// NewDepthFrame allocates a zeroed frame.
func NewDepthFrame(width, height int) *DepthFrame {
	return &DepthFrame{Width: width, Height: height, Data: make([]uint16, width*height)}
}

// NewDepthFrameFromGray16 copies a 16 bit grayscale image, the usual container for depth PNGs.
func NewDepthFrameFromGray16(img *image.Gray16) *DepthFrame {
	b := img.Bounds()
	df := NewDepthFrame(b.Dx(), b.Dy())
	for y := 0; y < df.Height; y++ {
		for x := 0; x < df.Width; x++ {
			df.Data[y*df.Width+x] = img.Gray16At(b.Min.X+x, b.Min.Y+y).Y
		}
	}
	return df
}

// At returns the sample at column x and row y.
func (df *DepthFrame) At(x, y int) uint16 {
	return df.Data[y*df.Width+x]
}

// Set stores a sample.
func (df *DepthFrame) Set(x, y int, v uint16) {
	df.Data[y*df.Width+x] = v
}

// Fill sets every sample in rect to v.
func (df *DepthFrame) Fill(rect image.Rectangle, v uint16) {
	rect = rect.Intersect(image.Rect(0, 0, df.Width, df.Height))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			df.Set(x, y, v)
		}
	}
}

// GeneratorConfig holds the working parameters of a Generator.
type GeneratorConfig struct {
	Intrinsics transform.CameraIntrinsics
	Mode       DepthMode
	// DepthScale divides millimeter mode samples, 1000 for millimeters to meters.
	DepthScale float64
	MinDepth   float64
	MaxDepth   float64
}

// DefaultGeneratorConfig reads raw 11 bit codes from a Kinect v1 between 0.4 and 8 meters.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Intrinsics: *transform.DefaultIntrinsics(),
		Mode:       DepthModeRaw11Bit,
		DepthScale: 1000,
		MinDepth:   0.4,
		MaxDepth:   8.0,
	}
}

// Validate checks the configuration.
func (cfg *GeneratorConfig) Validate() error {
	switch cfg.Mode {
	case DepthModeRaw11Bit, DepthModeMillimeter:
	default:
		return errors.Errorf("unknown depth mode %q", cfg.Mode)
	}
	if cfg.Mode == DepthModeMillimeter && cfg.DepthScale <= 0 {
		return errors.Errorf("depth_scale must be positive, got %v", cfg.DepthScale)
	}
	if cfg.MinDepth < 0 || cfg.MaxDepth <= cfg.MinDepth {
		return errors.Errorf("invalid depth range [%v, %v]", cfg.MinDepth, cfg.MaxDepth)
	}
	return cfg.Intrinsics.CheckValid()
}

// Generator back-projects depth frames into point clouds. SetIntrinsics and SetDepthRange change
// the parameters used by later calls; they must not run concurrently with DepthToPointCloud.
type Generator struct {
	cfg    GeneratorConfig
	logger logging.Logger
}

// NewGenerator validates cfg and returns a Generator.
func NewGenerator(cfg GeneratorConfig, logger logging.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Infow("point cloud generator ready",
		"width", cfg.Intrinsics.Width, "height", cfg.Intrinsics.Height,
		"mode", cfg.Mode, "min_depth", cfg.MinDepth, "max_depth", cfg.MaxDepth)
	return &Generator{cfg: cfg, logger: logger}, nil
}

// Intrinsics returns a copy of the working intrinsics.
func (g *Generator) Intrinsics() transform.CameraIntrinsics {
	return g.cfg.Intrinsics
}

// Config returns a copy of the working configuration.
func (g *Generator) Config() GeneratorConfig {
	return g.cfg
}

// SetIntrinsics replaces the pinhole parameters used for back-projection.
func (g *Generator) SetIntrinsics(fx, fy, cx, cy float64) error {
	next := g.cfg.Intrinsics
	next.Fx, next.Fy, next.Ppx, next.Ppy = fx, fy, cx, cy
	if err := next.CheckValid(); err != nil {
		return err
	}
	g.cfg.Intrinsics = next
	g.logger.Infow("generator intrinsics updated", "fx", fx, "fy", fy, "cx", cx, "cy", cy)
	return nil
}

// SetDepthRange replaces the accepted depth interval in meters.
func (g *Generator) SetDepthRange(minDepth, maxDepth float64) error {
	if minDepth < 0 || maxDepth <= minDepth {
		return errors.Errorf("invalid depth range [%v, %v]", minDepth, maxDepth)
	}
	g.cfg.MinDepth, g.cfg.MaxDepth = minDepth, maxDepth
	g.logger.Infow("generator depth range updated", "min_depth", minDepth, "max_depth", maxDepth)
	return nil
}

// toMeters converts one sample. ok is false for samples the sensor marks invalid.
func (g *Generator) toMeters(sample uint16) (float64, bool) {
	if sample == 0 {
		return 0, false
	}
	if g.cfg.Mode == DepthModeRaw11Bit {
		return RawToMeters(sample)
	}
	return float64(sample) / g.cfg.DepthScale, true
}

// DepthToPointCloud back-projects every valid pixel of depth, keeping every downsample-th row
// and column. Pixels are dropped when the sensor flags them or when their depth is not finite
// or outside (MinDepth, MaxDepth). When rgb is given it is resized to the depth resolution if
// needed and sampled at the kept pixels. A nil or empty frame yields an empty cloud.
func (g *Generator) DepthToPointCloud(depth *DepthFrame, rgb image.Image, downsample int) *PointCloud {
	if depth == nil || depth.Width <= 0 || depth.Height <= 0 || len(depth.Data) < depth.Width*depth.Height {
		return NewEmpty()
	}
	if downsample < 1 {
		downsample = 1
	}
	if rgb != nil && (rgb.Bounds().Dx() != depth.Width || rgb.Bounds().Dy() != depth.Height) {
		rgb = ResizeColor(rgb, depth.Width, depth.Height)
	}
	intr := g.cfg.Intrinsics.Decimated(downsample)

	capacity := ((depth.Width + downsample - 1) / downsample) * ((depth.Height + downsample - 1) / downsample)
	pts := make([]r3.Vector, 0, capacity)
	var colors []Color
	if rgb != nil {
		colors = make([]Color, 0, capacity)
	}
	for y, v := 0, 0; y < depth.Height; y, v = y+downsample, v+1 {
		for x, u := 0, 0; x < depth.Width; x, u = x+downsample, u+1 {
			z, ok := g.toMeters(depth.At(x, y))
			if !ok || math.IsNaN(z) || math.IsInf(z, 0) || z <= g.cfg.MinDepth || z >= g.cfg.MaxDepth {
				continue
			}
			pts = append(pts, intr.PixelToPoint(float64(u), float64(v), z))
			if rgb != nil {
				colors = append(colors, colorAt(rgb, x, y))
			}
		}
	}
	return New(pts, colors)
}

func colorAt(img image.Image, x, y int) Color {
	b := img.Bounds()
	c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
	return NewColorFromRGB255(c.R, c.G, c.B)
}

// ResizeColor scales img to width x height with bilinear interpolation.
func ResizeColor(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// TrueColored back-projects depth and colors every point from rgb.
func (g *Generator) TrueColored(depth *DepthFrame, rgb image.Image, downsample int) *PointCloud {
	return g.DepthToPointCloud(depth, rgb, downsample)
}

// DepthColored back-projects depth and colors the points by Z through cmap.
func (g *Generator) DepthColored(depth *DepthFrame, cmap Colormap, downsample int) *PointCloud {
	return ColorByDepth(g.DepthToPointCloud(depth, nil, downsample), cmap)
}

// HeightColored back-projects depth and colors the points by height above floorHeight. The
// sensor's Y axis points down, so height is -Y - floorHeight.
func (g *Generator) HeightColored(depth *DepthFrame, floorHeight float64, cmap Colormap, downsample int) *PointCloud {
	return ColorByHeight(g.DepthToPointCloud(depth, nil, downsample), floorHeight, cmap)
}
