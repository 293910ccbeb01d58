package pointcloud

import (
	"context"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/logging"
)

// Processor runs the filtering, segmentation and clustering stages over point clouds. It holds
// no per-frame state and is safe for concurrent use.
type Processor struct {
	logger logging.Logger
}

// NewProcessor returns a Processor that logs stage diagnostics to logger.
func NewProcessor(logger logging.Logger) *Processor {
	return &Processor{logger: logger}
}

// SegmentPlaneRANSAC finds the dominant plane and returns it together with a cloud of the
// points that are not on it.
func (p *Processor) SegmentPlaneRANSAC(pc *PointCloud, opts RANSACOptions, rng *rand.Rand) (*PlaneModel, *PointCloud, error) {
	plane, err := FindPlaneRANSAC(pc.Points, opts, rng)
	if err != nil {
		return nil, pc, err
	}
	p.logger.Debugw("plane segmented", "inliers", plane.NumInliers(), "points", pc.NumPoints())
	return plane, pc.Subset(complementIndices(pc.NumPoints(), plane.Inliers)), nil
}

// TableSegmentationOptions restrict the plane search to a band of heights along an up axis and
// require the result to face that axis.
type TableSegmentationOptions struct {
	Up                r3.Vector
	MinHeight         float64
	MaxHeight         float64
	MinBandPoints     int
	DistanceThreshold float64
	MaxIterations     int
	MinInliersRatio   float64
	MinVerticality    float64
}

// DefaultTableSegmentationOptions look for a table between 0.5 and 2.5 meters along Z.
func DefaultTableSegmentationOptions() TableSegmentationOptions {
	return TableSegmentationOptions{
		Up:                r3.Vector{Z: 1},
		MinHeight:         0.5,
		MaxHeight:         2.5,
		MinBandPoints:     100,
		DistanceThreshold: 0.02,
		MaxIterations:     500,
		MinInliersRatio:   0.1,
		MinVerticality:    0.8,
	}
}

// SegmentTablePlane runs RANSAC on the points inside the height band and rejects the plane if
// its normal is not within MinVerticality of Up. The inliers of the returned plane index into
// pc, and the returned cloud holds every point of pc not on the plane.
func (p *Processor) SegmentTablePlane(
	pc *PointCloud, opts TableSegmentationOptions, rng *rand.Rand,
) (*PlaneModel, *PointCloud, error) {
	up := opts.Up.Normalize()
	band := make([]int, 0, pc.NumPoints())
	for i, pt := range pc.Points {
		h := pt.Dot(up)
		if h >= opts.MinHeight && h <= opts.MaxHeight {
			band = append(band, i)
		}
	}
	if len(band) < opts.MinBandPoints {
		return nil, pc, errors.Wrapf(ErrInsufficientPoints,
			"%d points in height band [%v, %v], need %d", len(band), opts.MinHeight, opts.MaxHeight, opts.MinBandPoints)
	}

	bandPts := make([]r3.Vector, len(band))
	for i, idx := range band {
		bandPts[i] = pc.Points[idx]
	}
	plane, err := FindPlaneRANSAC(bandPts, RANSACOptions{
		DistanceThreshold: opts.DistanceThreshold,
		MaxIterations:     opts.MaxIterations,
		MinInliersRatio:   opts.MinInliersRatio,
	}, rng)
	if err != nil {
		return nil, pc, err
	}
	if v := plane.Verticality(up); v < opts.MinVerticality {
		return nil, pc, errors.Wrapf(ErrPlaneNotVertical, "verticality %.3f below %.3f", v, opts.MinVerticality)
	}

	for i, bandIdx := range plane.Inliers {
		plane.Inliers[i] = band[bandIdx]
	}
	p.logger.Debugw("table segmented", "band_points", len(band), "inliers", plane.NumInliers())
	return plane, pc.Subset(complementIndices(pc.NumPoints(), plane.Inliers)), nil
}

// complementIndices returns [0, n) minus the sorted indices in exclude.
func complementIndices(n int, exclude []int) []int {
	out := make([]int, 0, n-len(exclude))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(exclude) && exclude[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}

// ProcessOptions configure ProcessForTable.
type ProcessOptions struct {
	VoxelSize              float64
	OutlierNeighbors       int
	OutlierStdRatio        float64
	Table                  TableSegmentationOptions
	ClusterEps             float64
	ClusterMinSamples      int
	ClusterMinSize         int
	MinPointsForClustering int
	// Rand drives the plane search. nil uses a fixed seed.
	Rand *rand.Rand
}

// DefaultProcessOptions are tuned for a sensor about 1.5 meters above the table.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		VoxelSize:              0.01,
		OutlierNeighbors:       15,
		OutlierStdRatio:        1.5,
		Table:                  DefaultTableSegmentationOptions(),
		ClusterEps:             0.03,
		ClusterMinSamples:      10,
		ClusterMinSize:         50,
		MinPointsForClustering: 50,
	}
}

// Keys of TableResult.Stats.
const (
	StatPointsAfterVoxel  = "points_after_voxel"
	StatPointsAfterFilter = "points_after_filter"
	StatTableInliers      = "table_inliers"
	StatNumObjects        = "num_objects"
)

// TableResult is the outcome of ProcessForTable. TablePlane is nil when no table was found, in
// which case TableHeight is zero and the whole filtered cloud was clustered.
type TableResult struct {
	TablePlane  *PlaneModel
	TableHeight float64
	Objects     []*Cluster
	Processed   *PointCloud
	Stats       map[string]int
}

// ProcessForTable downsamples and filters the cloud, removes the table plane and clusters what
// is left into objects. A frame without a table still yields a result; the only errors are a
// bad voxel size and cancellation of ctx between stages.
func (p *Processor) ProcessForTable(ctx context.Context, pc *PointCloud, opts ProcessOptions) (*TableResult, error) {
	result := &TableResult{Stats: map[string]int{}}

	voxeled, err := p.VoxelDownsample(pc, opts.VoxelSize)
	if err != nil {
		return nil, err
	}
	result.Stats[StatPointsAfterVoxel] = voxeled.NumPoints()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filtered := p.StatisticalOutlierRemoval(voxeled, opts.OutlierNeighbors, opts.OutlierStdRatio)
	result.Stats[StatPointsAfterFilter] = filtered.NumPoints()
	result.Processed = filtered
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Stats[StatTableInliers] = 0
	plane, remaining, err := p.SegmentTablePlane(filtered, opts.Table, opts.Rand)
	switch {
	case err != nil:
		p.logger.CDebugw(ctx, "no table in frame", "error", err)
		remaining = filtered
	default:
		result.TablePlane = plane
		result.Stats[StatTableInliers] = plane.NumInliers()
		if h, ok := plane.AxisIntercept(opts.Table.Up); ok {
			result.TableHeight = h
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if remaining.NumPoints() > opts.MinPointsForClustering {
		result.Objects = p.ClusterObjectsDBSCAN(remaining, opts.ClusterEps, opts.ClusterMinSamples, opts.ClusterMinSize)
	}
	result.Stats[StatNumObjects] = len(result.Objects)

	p.logger.CDebugw(ctx, "processed frame for table",
		"input", pc.NumPoints(),
		StatPointsAfterVoxel, result.Stats[StatPointsAfterVoxel],
		StatPointsAfterFilter, result.Stats[StatPointsAfterFilter],
		StatTableInliers, result.Stats[StatTableInliers],
		StatNumObjects, result.Stats[StatNumObjects],
	)
	return result, nil
}
