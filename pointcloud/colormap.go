package pointcloud

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Colormap names a false color gradient.
type Colormap string

// Supported colormaps.
const (
	ColormapJet     = Colormap("jet")
	ColormapViridis = Colormap("viridis")
	ColormapPlasma  = Colormap("plasma")
	ColormapTurbo   = Colormap("turbo")
	ColormapHot     = Colormap("hot")
	ColormapCool    = Colormap("cool")
)

type gradientStop struct {
	col colorful.Color
	pos float64
}

type gradient []gradientStop

func stops(hexes ...string) gradient {
	g := make(gradient, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(err)
		}
		g[i] = gradientStop{col: c, pos: float64(i) / float64(len(hexes)-1)}
	}
	return g
}

// at blends the two stops around t, which must be in [0,1].
func (g gradient) at(t float64) colorful.Color {
	for i := 0; i < len(g)-1; i++ {
		c1, c2 := g[i], g[i+1]
		if c1.pos <= t && t <= c2.pos {
			return c1.col.BlendRgb(c2.col, (t-c1.pos)/(c2.pos-c1.pos)).Clamped()
		}
	}
	return g[len(g)-1].col
}

var gradients = map[Colormap]gradient{
	ColormapJet:     stops("#00007f", "#0000ff", "#007fff", "#00ffff", "#7fff7f", "#ffff00", "#ff7f00", "#ff0000", "#7f0000"),
	ColormapViridis: stops("#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"),
	ColormapPlasma:  stops("#0d0887", "#46039f", "#7201a8", "#9c179e", "#bd3786", "#d8576b", "#ed7953", "#fb9f3a", "#fdca26", "#f0f921"),
	ColormapTurbo:   stops("#30123b", "#4662d7", "#36aaf9", "#1ae4b6", "#72fe5e", "#c8ef34", "#faba39", "#f66b19", "#ca2a04", "#7a0403"),
	ColormapHot:     stops("#000000", "#ff0000", "#ffff00", "#ffffff"),
	ColormapCool:    stops("#00ffff", "#ff00ff"),
}

// Validate reports whether the colormap is known.
func (cm Colormap) Validate() error {
	if _, ok := gradients[cm]; !ok {
		return errors.Errorf("unknown colormap %q", cm)
	}
	return nil
}

// Color maps t in [0,1] to a color. Unknown colormaps fall back to jet.
func (cm Colormap) Color(t float64) Color {
	g, ok := gradients[cm]
	if !ok {
		g = gradients[ColormapJet]
	}
	t = math.Max(0, math.Min(1, t))
	c := g.at(t)
	return Color{R: c.R, G: c.G, B: c.B}
}

// ColorizeValues normalizes values to their own range and maps each through the colormap.
func (cm Colormap) ColorizeValues(values []float64) []Color {
	out := make([]Color, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range values {
		out[i] = cm.Color((v - lo) / (hi - lo + 1e-6))
	}
	return out
}

// ColorByDepth returns a copy of pc colored by Z.
func ColorByDepth(pc *PointCloud, cmap Colormap) *PointCloud {
	values := make([]float64, pc.NumPoints())
	for i, pt := range pc.Points {
		values[i] = pt.Z
	}
	return pc.WithColors(cmap.ColorizeValues(values))
}

// ColorByHeight returns a copy of pc colored by -Y - floorHeight.
func ColorByHeight(pc *PointCloud, floorHeight float64, cmap Colormap) *PointCloud {
	values := make([]float64, pc.NumPoints())
	for i, pt := range pc.Points {
		values[i] = -pt.Y - floorHeight
	}
	return pc.WithColors(cmap.ColorizeValues(values))
}
