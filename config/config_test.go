package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
)

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	test.That(t, conf.Validate(), test.ShouldBeNil)
	test.That(t, conf.Level(), test.ShouldEqual, logging.INFO)

	opts := conf.Processor.ProcessOptions()
	def := pointcloud.DefaultProcessOptions()
	test.That(t, opts.VoxelSize, test.ShouldEqual, def.VoxelSize)
	test.That(t, opts.Table, test.ShouldResemble, def.Table)

	gen := conf.Generator.PointCloudConfig(nil)
	test.That(t, gen, test.ShouldResemble, pointcloud.DefaultGeneratorConfig())
}

func TestReadExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TABLETOP_DATA", dir)
	path := filepath.Join(dir, "tabletop.json")
	contents := `{
		"intrinsics_path": "${TABLETOP_DATA}/camera_intrinsics.json",
		"calibration_path": "${TABLETOP_DATA}/calibration_data.json",
		"log_level": "debug",
		"generator": {"mode": "mm", "depth_scale": 1000, "min_depth": 0.3, "max_depth": 4},
		"processor": {"voxel_size": 0.02, "cluster_min_size": 20},
		"streaming": {"max_points": 10000, "quantize_bits": 12}
	}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	conf, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.IntrinsicsPath, test.ShouldEqual, filepath.Join(dir, "camera_intrinsics.json"))
	test.That(t, conf.CalibrationPath, test.ShouldEqual, dir+"/calibration_data.json")
	test.That(t, conf.Level(), test.ShouldEqual, logging.DEBUG)
	test.That(t, conf.Generator.Mode, test.ShouldEqual, pointcloud.DepthModeMillimeter)
	test.That(t, conf.Generator.MaxDepth, test.ShouldEqual, 4.0)
	test.That(t, conf.Processor.VoxelSize, test.ShouldEqual, 0.02)
	test.That(t, conf.Processor.ClusterMinSize, test.ShouldEqual, 20)
	test.That(t, conf.Streaming.MaxPoints, test.ShouldEqual, 10000)
	test.That(t, conf.Streaming.QuantizeBits, test.ShouldEqual, 12)

	// untouched fields keep their defaults
	want := Default()
	want.IntrinsicsPath = conf.IntrinsicsPath
	want.CalibrationPath = conf.CalibrationPath
	want.LogLevel = "debug"
	want.Generator = GeneratorConfig{Mode: pointcloud.DepthModeMillimeter, DepthScale: 1000, MinDepth: 0.3, MaxDepth: 4, Downsample: 1}
	want.Processor.VoxelSize = 0.02
	want.Processor.ClusterMinSize = 20
	want.Streaming.MaxPoints = 10000
	want.Streaming.QuantizeBits = 12
	test.That(t, cmp.Diff(want, conf), test.ShouldBeEmpty)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	for _, tc := range []struct {
		name     string
		contents string
		errPart  string
	}{
		{"malformed", `{"log_level": `, "parse"},
		{"unknown key", `{"log_lvl": "info"}`, "log_lvl"},
		{"bad level", `{"log_level": "loud"}`, "log_level"},
		{"bad mode", `{"generator": {"mode": "disparity"}}`, "generator"},
		{"bad bits", `{"streaming": {"quantize_bits": 17}}`, "streaming"},
		{"empty band", `{"processor": {"table_min_height": 3}}`, "processor"},
		{"bad board", `{"calibration": {"board_rows": 1}}`, "calibration"},
		{"wrong type", `{"processor": {"voxel_size": "small"}}`, "voxel_size"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.contents))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errPart)
		})
	}
}

func TestDecodeAttributes(t *testing.T) {
	var pc ProcessorConfig
	err := DecodeAttributes(AttributeMap{"cluster_eps": 0.05, "cluster_min_samples": 4.0}, &pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.ClusterEps, test.ShouldEqual, 0.05)
	test.That(t, pc.ClusterMinSamples, test.ShouldEqual, 4)

	err = DecodeAttributes(AttributeMap{"cluster_radius": 0.05}, &pc)
	test.That(t, err, test.ShouldNotBeNil)
}
