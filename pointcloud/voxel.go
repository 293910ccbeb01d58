package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

type voxelKey struct {
	i, j, k int64
}

func newVoxelKey(p r3.Vector, size float64) voxelKey {
	return voxelKey{
		i: int64(math.Floor(p.X / size)),
		j: int64(math.Floor(p.Y / size)),
		k: int64(math.Floor(p.Z / size)),
	}
}

type voxelAccumulator struct {
	sum      r3.Vector
	colorSum Color
	count    int
}

// VoxelDownsample buckets the points into cubes of the given size and replaces every occupied
// cube by the centroid of its points (and the mean of their colors). Output points are in the
// order their voxel was first seen, and each lies inside its own voxel, so downsampling the
// result again with the same size returns the same points.
func (p *Processor) VoxelDownsample(pc *PointCloud, size float64) (*PointCloud, error) {
	if size <= 0 {
		return nil, errors.Errorf("voxel size must be positive, got %v", size)
	}
	if pc.NumPoints() == 0 {
		return NewEmpty(), nil
	}
	hasColors := pc.HasColors()

	order := make([]voxelKey, 0)
	voxels := make(map[voxelKey]*voxelAccumulator)
	for i, pt := range pc.Points {
		key := newVoxelKey(pt, size)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[key] = acc
			order = append(order, key)
		}
		acc.sum = acc.sum.Add(pt)
		if hasColors {
			c := pc.Colors[i]
			acc.colorSum.R += c.R
			acc.colorSum.G += c.G
			acc.colorSum.B += c.B
		}
		acc.count++
	}

	out := &PointCloud{Points: make([]r3.Vector, 0, len(order)), Timestamp: pc.Timestamp}
	if hasColors {
		out.Colors = make([]Color, 0, len(order))
	}
	for _, key := range order {
		acc := voxels[key]
		n := float64(acc.count)
		c := acc.sum.Mul(1 / n)
		c = r3.Vector{
			X: snapIntoCell(c.X, key.i, size),
			Y: snapIntoCell(c.Y, key.j, size),
			Z: snapIntoCell(c.Z, key.k, size),
		}
		out.Points = append(out.Points, c)
		if hasColors {
			out.Colors = append(out.Colors, Color{R: acc.colorSum.R / n, G: acc.colorSum.G / n, B: acc.colorSum.B / n})
		}
	}
	p.logger.Debugw("voxel downsample", "voxel_size", size, "before", pc.NumPoints(), "after", out.NumPoints())
	return out, nil
}

// snapIntoCell nudges v by single ulps until floor(v/size) == cell. Averaging can land a
// centroid a rounding error outside the voxel it came from.
func snapIntoCell(v float64, cell int64, size float64) float64 {
	for i := 0; i < 64; i++ {
		got := int64(math.Floor(v / size))
		switch {
		case got < cell:
			v = math.Nextafter(v, math.Inf(1))
		case got > cell:
			v = math.Nextafter(v, math.Inf(-1))
		default:
			return v
		}
	}
	return v
}
