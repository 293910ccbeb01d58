package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a kd-tree point that remembers its position in the source cloud.
type indexedPoint struct {
	r3.Vector
	idx int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		return p.Z - q.Z
	}
}

func (p indexedPoint) Dims() int { return 3 }

// Distance is the squared euclidean distance, as for kdtree.Point.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return p.Sub(c.(indexedPoint).Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return indexedPlane{dim: d, points: p}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// indexedPlane sorts points along one dimension for median partitioning.
type indexedPlane struct {
	dim    kdtree.Dim
	points indexedPoints
}

func (p indexedPlane) Less(i, j int) bool {
	return p.points[i].Compare(p.points[j], p.dim) < 0
}
func (p indexedPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p indexedPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p indexedPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p indexedPlane) Len() int      { return len(p.points) }

// kdIndex answers k-nearest and radius queries over a fixed set of points.
type kdIndex struct {
	tree *kdtree.Tree
}

func newKDIndex(pts []r3.Vector) *kdIndex {
	items := make(indexedPoints, len(pts))
	for i, p := range pts {
		items[i] = indexedPoint{Vector: p, idx: i}
	}
	return &kdIndex{tree: kdtree.New(items, false)}
}

// neighbor is a query result: the index of the point and its euclidean distance.
type neighbor struct {
	idx  int
	dist float64
}

func collect(heap kdtree.Heap, out []neighbor) []neighbor {
	out = out[:0]
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, neighbor{idx: cd.Comparable.(indexedPoint).idx, dist: math.Sqrt(cd.Dist)})
	}
	return out
}

// nearest returns up to k points closest to q in ascending distance, ties broken by index.
func (idx *kdIndex) nearest(q r3.Vector, k int, out []neighbor) []neighbor {
	keeper := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(keeper, indexedPoint{Vector: q, idx: -1})
	out = collect(keeper.Heap, out)
	// the keeper's heap is only partially ordered
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].idx < out[j].idx
	})
	return out
}

// within returns every point at distance <= radius from q.
func (idx *kdIndex) within(q r3.Vector, radius float64, out []neighbor) []neighbor {
	keeper := kdtree.NewDistKeeper(radius * radius)
	idx.tree.NearestSet(keeper, indexedPoint{Vector: q, idx: -1})
	return collect(keeper.Heap, out)
}
