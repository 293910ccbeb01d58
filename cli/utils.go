package cli

import (
	"encoding/binary"
	"fmt"
	"image"
	// register decoders for image.Decode.
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/tabletop/config"
	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage/transform"
)

// imageExtensions are the still image formats the CLI can decode.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".ppm"}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...) //nolint:errcheck
}

// commandContext is what every action needs: the effective config and a logger writing to the
// app's error stream so standard output stays machine readable.
type commandContext struct {
	conf   *config.Config
	logger logging.Logger
}

func newCommandContext(c *cli.Context) (*commandContext, error) {
	conf := config.Default()
	if path := c.Path(generalFlagConfig); path != "" {
		var err error
		if conf, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	logger := logging.NewBlankLogger("tabletop")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(conf.Level())
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return &commandContext{conf: conf, logger: logger}, nil
}

// generator builds a point cloud generator from the config and any flag overrides.
func (cc *commandContext) generator(c *cli.Context) (*pointcloud.Generator, int, error) {
	gen := cc.conf.Generator
	if mode := c.String(depthModeFlag); mode != "" {
		gen.Mode = pointcloud.DepthMode(mode)
	}
	downsample := gen.Downsample
	if n := c.Int(downsampleFlag); n > 0 {
		downsample = n
	}
	intrinsicsPath := cc.conf.IntrinsicsPath
	if path := c.Path(intrinsicsFlag); path != "" {
		intrinsicsPath = path
	}
	intrinsics := transform.LoadOrDefaultIntrinsics(intrinsicsPath, cc.logger)
	g, err := pointcloud.NewGenerator(gen.PointCloudConfig(intrinsics), cc.logger.Sublogger("generator"))
	if err != nil {
		return nil, 0, err
	}
	return g, downsample, nil
}

// pointCloudFromFlags reads the depth and optional color inputs and back-projects them.
func (cc *commandContext) pointCloudFromFlags(c *cli.Context) (*pointcloud.PointCloud, error) {
	g, downsample, err := cc.generator(c)
	if err != nil {
		return nil, err
	}
	depth, err := readDepthFrame(c.Path(depthFlag), c.Int(widthFlag), c.Int(heightFlag))
	if err != nil {
		return nil, err
	}
	var rgb image.Image
	if path := c.Path(colorFlag); path != "" {
		if rgb, err = readImage(path); err != nil {
			return nil, err
		}
	}
	pc := g.DepthToPointCloud(depth, rgb, downsample)
	cc.logger.Debugw("depth frame converted", "width", depth.Width, "height", depth.Height, "points", pc.NumPoints())
	return pc, nil
}

// imageFiles expands pattern and keeps the files with a decodable image extension, sorted.
func imageFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "bad image pattern %q", pattern)
	}
	files := lo.Filter(matches, func(path string, _ int) bool {
		return lo.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
	})
	sort.Strings(files)
	return files, nil
}

func readImage(path string) (img image.Image, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	img, _, err = image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image %q", path)
	}
	return img, nil
}

// readDepthFrame loads a 16 bit grayscale PNG, or for any other extension a headerless file of
// width*height little endian samples.
func readDepthFrame(path string, width, height int) (*pointcloud.DepthFrame, error) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		img, err := readImage(path)
		if err != nil {
			return nil, err
		}
		gray, ok := img.(*image.Gray16)
		if !ok {
			return nil, errors.Errorf("depth image %q is %T, expected 16 bit grayscale", path, img)
		}
		return pointcloud.NewDepthFrameFromGray16(gray), nil
	}

	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid raw frame size %dx%d", width, height)
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if expected := int64(width * height * 2); info.Size() != expected {
		return nil, errors.Errorf("raw depth file %q has %d bytes, expected %d for %dx%d",
			path, info.Size(), expected, width, height)
	}
	df := pointcloud.NewDepthFrame(width, height)
	if err := binary.Read(f, binary.LittleEndian, df.Data); err != nil {
		return nil, errors.Wrapf(err, "cannot read raw depth %q", path)
	}
	return df, nil
}
