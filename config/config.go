// Package config defines the configuration file of the tabletop pipeline.
package config

import (
	"github.com/pkg/errors"

	"go.viam.com/tabletop/calibration"
	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/pointcloud/stream"
	"go.viam.com/tabletop/rimage/transform"
)

// Config is the whole configuration. Every section may be omitted, in which case its defaults
// apply.
type Config struct {
	IntrinsicsPath  string `json:"intrinsics_path"`
	CalibrationPath string `json:"calibration_path"`
	LogLevel        string `json:"log_level"`

	Generator   GeneratorConfig   `json:"generator"`
	Processor   ProcessorConfig   `json:"processor"`
	Streaming   stream.Config     `json:"streaming"`
	Calibration CalibrationConfig `json:"calibration"`
}

// GeneratorConfig selects how depth samples are read.
type GeneratorConfig struct {
	Mode       pointcloud.DepthMode `json:"mode"`
	DepthScale float64              `json:"depth_scale"`
	MinDepth   float64              `json:"min_depth"`
	MaxDepth   float64              `json:"max_depth"`
	Downsample int                  `json:"downsample"`
}

// ProcessorConfig tunes the frame pipeline.
type ProcessorConfig struct {
	VoxelSize         float64 `json:"voxel_size"`
	OutlierNeighbors  int     `json:"outlier_neighbors"`
	OutlierStdRatio   float64 `json:"outlier_std_ratio"`
	TableMinHeight    float64 `json:"table_min_height"`
	TableMaxHeight    float64 `json:"table_max_height"`
	PlaneThreshold    float64 `json:"plane_threshold"`
	PlaneIterations   int     `json:"plane_iterations"`
	ClusterEps        float64 `json:"cluster_eps"`
	ClusterMinSamples int     `json:"cluster_min_samples"`
	ClusterMinSize    int     `json:"cluster_min_size"`
}

// CalibrationConfig describes the intrinsic calibration board and the display.
type CalibrationConfig struct {
	BoardRows    int     `json:"board_rows"`
	BoardCols    int     `json:"board_cols"`
	SquareSize   float64 `json:"square_size"`
	MinImages    int     `json:"min_images"`
	MaxImages    int     `json:"max_images"`
	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
	MarkerSize   int     `json:"marker_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	gen := pointcloud.DefaultGeneratorConfig()
	proc := pointcloud.DefaultProcessOptions()
	intr := calibration.DefaultIntrinsicConfig()
	return &Config{
		LogLevel: "info",
		Generator: GeneratorConfig{
			Mode:       gen.Mode,
			DepthScale: gen.DepthScale,
			MinDepth:   gen.MinDepth,
			MaxDepth:   gen.MaxDepth,
			Downsample: 1,
		},
		Processor: ProcessorConfig{
			VoxelSize:         proc.VoxelSize,
			OutlierNeighbors:  proc.OutlierNeighbors,
			OutlierStdRatio:   proc.OutlierStdRatio,
			TableMinHeight:    proc.Table.MinHeight,
			TableMaxHeight:    proc.Table.MaxHeight,
			PlaneThreshold:    proc.Table.DistanceThreshold,
			PlaneIterations:   proc.Table.MaxIterations,
			ClusterEps:        proc.ClusterEps,
			ClusterMinSamples: proc.ClusterMinSamples,
			ClusterMinSize:    proc.ClusterMinSize,
		},
		Streaming: stream.DefaultConfig(),
		Calibration: CalibrationConfig{
			BoardRows:    intr.BoardRows,
			BoardCols:    intr.BoardCols,
			SquareSize:   intr.SquareSize,
			MinImages:    intr.MinImages,
			MaxImages:    intr.MaxImages,
			ScreenWidth:  calibration.DefaultScreenWidth,
			ScreenHeight: calibration.DefaultScreenHeight,
			MarkerSize:   calibration.DefaultMarkerSize,
		},
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate() error {
	if _, err := logging.LevelFromString(conf.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	gen := conf.Generator.PointCloudConfig(nil)
	if err := gen.Validate(); err != nil {
		return errors.Wrap(err, "generator")
	}
	if conf.Generator.Downsample < 1 {
		return errors.Errorf("generator: downsample must be at least 1, got %d", conf.Generator.Downsample)
	}
	if err := conf.Processor.Validate("processor"); err != nil {
		return err
	}
	if err := conf.Streaming.Validate("streaming"); err != nil {
		return err
	}
	intr := conf.Calibration.IntrinsicConfig()
	if err := intr.Validate("calibration"); err != nil {
		return err
	}
	if conf.Calibration.ScreenWidth <= 0 || conf.Calibration.ScreenHeight <= 0 {
		return errors.Errorf("calibration: invalid screen size %dx%d",
			conf.Calibration.ScreenWidth, conf.Calibration.ScreenHeight)
	}
	return nil
}

// Level returns the parsed log level.
func (conf *Config) Level() logging.Level {
	level, err := logging.LevelFromString(conf.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// PointCloudConfig builds the generator configuration around intrinsics, or the sensor defaults
// when intrinsics is nil.
func (gc GeneratorConfig) PointCloudConfig(intrinsics *transform.CameraIntrinsics) pointcloud.GeneratorConfig {
	cfg := pointcloud.DefaultGeneratorConfig()
	if intrinsics != nil {
		cfg.Intrinsics = *intrinsics
	}
	cfg.Mode = gc.Mode
	cfg.DepthScale = gc.DepthScale
	cfg.MinDepth = gc.MinDepth
	cfg.MaxDepth = gc.MaxDepth
	return cfg
}

// Validate ensures all parts of the config are valid.
func (pc *ProcessorConfig) Validate(path string) error {
	switch {
	case pc.VoxelSize < 0:
		return errors.Errorf("%s: voxel_size must not be negative", path)
	case pc.OutlierNeighbors < 0 || pc.OutlierStdRatio < 0:
		return errors.Errorf("%s: outlier parameters must not be negative", path)
	case pc.TableMaxHeight <= pc.TableMinHeight:
		return errors.Errorf("%s: table height band [%v, %v] is empty", path, pc.TableMinHeight, pc.TableMaxHeight)
	case pc.PlaneThreshold <= 0 || pc.PlaneIterations <= 0:
		return errors.Errorf("%s: plane_threshold and plane_iterations must be positive", path)
	case pc.ClusterEps <= 0 || pc.ClusterMinSamples <= 0:
		return errors.Errorf("%s: cluster_eps and cluster_min_samples must be positive", path)
	}
	return nil
}

// ProcessOptions converts the section to processor options.
func (pc ProcessorConfig) ProcessOptions() pointcloud.ProcessOptions {
	opts := pointcloud.DefaultProcessOptions()
	opts.VoxelSize = pc.VoxelSize
	opts.OutlierNeighbors = pc.OutlierNeighbors
	opts.OutlierStdRatio = pc.OutlierStdRatio
	opts.Table.MinHeight = pc.TableMinHeight
	opts.Table.MaxHeight = pc.TableMaxHeight
	opts.Table.DistanceThreshold = pc.PlaneThreshold
	opts.Table.MaxIterations = pc.PlaneIterations
	opts.ClusterEps = pc.ClusterEps
	opts.ClusterMinSamples = pc.ClusterMinSamples
	opts.ClusterMinSize = pc.ClusterMinSize
	return opts
}

// IntrinsicConfig converts the section to intrinsic calibrator settings.
func (cc CalibrationConfig) IntrinsicConfig() calibration.IntrinsicConfig {
	cfg := calibration.DefaultIntrinsicConfig()
	cfg.BoardRows = cc.BoardRows
	cfg.BoardCols = cc.BoardCols
	cfg.SquareSize = cc.SquareSize
	cfg.MinImages = cc.MinImages
	cfg.MaxImages = cc.MaxImages
	return cfg
}
