package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// DistortionMap returns a function taking undistorted pixel coordinates (u, v) to the distorted
// pixel coordinates where that ray lands in the raw image.
func (params *CameraIntrinsics) DistortionMap() func(u, v float64) (float64, float64) {
	distortion := params.Distortion()
	return func(u, v float64) (float64, float64) {
		x := (u - params.Ppx) / params.Fx
		y := (v - params.Ppy) / params.Fy
		x, y = distortion.Transform(x, y)
		return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
	}
}

// UndistortPoint maps a distorted pixel to its undistorted position.
func (params *CameraIntrinsics) UndistortPoint(pt r2.Point) r2.Point {
	x := (pt.X - params.Ppx) / params.Fx
	y := (pt.Y - params.Ppy) / params.Fy
	x, y = params.Distortion().Inverse().Transform(x, y)
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// UndistortImage creates a new image of the same size, undistorted according to the lens model.
// Values between pixels are bilinearly interpolated; rays that leave the source are black.
func (params *CameraIntrinsics) UndistortImage(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	bounds := img.Bounds()
	if params.Width != bounds.Dx() || params.Height != bounds.Dy() {
		return nil, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			bounds.Dx(), bounds.Dy(), params.Width, params.Height)
	}
	src := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	draw.Draw(src, src.Bounds(), img, bounds.Min, draw.Src)
	if !params.HasDistortion() {
		return src, nil
	}

	dst := image.NewRGBA(src.Bounds())
	distortionMap := params.DistortionMap()
	for v := 0; v < params.Height; v++ {
		for u := 0; u < params.Width; u++ {
			x, y := distortionMap(float64(u), float64(v))
			dst.SetRGBA(u, v, bilinearRGBA(src, x, y))
		}
	}
	return dst, nil
}

func bilinearRGBA(img *image.RGBA, x, y float64) color.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return color.RGBA{A: 255}
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := img.RGBAAt(x0, y0)
	c10 := img.RGBAAt(x1, y0)
	c01 := img.RGBAAt(x0, y1)
	c11 := img.RGBAAt(x1, y1)
	mix := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: 255,
	}
}
