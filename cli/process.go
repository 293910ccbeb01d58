package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/tabletop/calibration"
	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/pointcloud/stream"
)

type objectSummary struct {
	Label     int         `json:"label"`
	NumPoints int         `json:"num_points"`
	Centroid  [3]float64  `json:"centroid"`
	Min       [3]float64  `json:"min"`
	Max       [3]float64  `json:"max"`
	Screen    *[2]float64 `json:"screen,omitempty"`
}

type processSummary struct {
	InputPoints int             `json:"input_points"`
	TableFound  bool            `json:"table_found"`
	TablePlane  *[4]float64     `json:"table_plane,omitempty"`
	TableHeight float64         `json:"table_height"`
	Stats       map[string]int  `json:"stats"`
	Objects     []objectSummary `json:"objects"`
}

func vec3(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// screenMapper returns a mapper for the configured calibration when it carries a homography.
func (cc *commandContext) screenMapper() *calibration.CoordinateMapper {
	if cc.conf.CalibrationPath == "" {
		return nil
	}
	if _, err := os.Stat(cc.conf.CalibrationPath); err != nil {
		return nil
	}
	cd, err := calibration.LoadCalibrationData(cc.conf.CalibrationPath)
	if err != nil {
		cc.logger.Warnw("ignoring unreadable calibration", "path", cc.conf.CalibrationPath, "error", err)
		return nil
	}
	if cd.Homography == nil {
		return nil
	}
	return calibration.NewCoordinateMapper(cd, cc.logger.Sublogger("mapper"))
}

// ProcessAction segments the table out of a depth frame and prints the objects left on it.
func ProcessAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	pc, err := cc.pointCloudFromFlags(c)
	if err != nil {
		return err
	}
	processor := pointcloud.NewProcessor(cc.logger.Sublogger("processor"))
	res, err := processor.ProcessForTable(processContext(c), pc, cc.conf.Processor.ProcessOptions())
	if err != nil {
		return err
	}

	mapper := cc.screenMapper()
	summary := processSummary{
		InputPoints: pc.NumPoints(),
		TableFound:  res.TablePlane != nil,
		TableHeight: res.TableHeight,
		Stats:       res.Stats,
		Objects: lo.Map(res.Objects, func(obj *pointcloud.Cluster, _ int) objectSummary {
			minPt, maxPt := obj.BoundingBox()
			s := objectSummary{
				Label:     obj.Label,
				NumPoints: obj.NumPoints(),
				Centroid:  vec3(obj.Centroid()),
				Min:       vec3(minPt),
				Max:       vec3(maxPt),
			}
			if mapper != nil {
				p := mapper.Kinect3DToScreen2D(obj.Centroid())
				s.Screen = &[2]float64{p.X, p.Y}
			}
			return s
		}),
	}
	if res.TablePlane != nil {
		plane := res.TablePlane.Coefficients
		summary.TablePlane = &plane
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

// EncodeAction prints, or writes to a file, the stream message of a depth frame.
func EncodeAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	format := stream.Format(c.String(formatFlag))
	if format != stream.FormatBinary && format != stream.FormatJSON {
		return errors.Errorf("unknown format %q, expected %s or %s", format, stream.FormatBinary, stream.FormatJSON)
	}
	pc, err := cc.pointCloudFromFlags(c)
	if err != nil {
		return err
	}
	streamer, err := stream.NewStreamer(cc.conf.Streaming, cc.logger.Sublogger("streamer"))
	if err != nil {
		return err
	}
	msg, err := stream.NewPointCloudMessage(pc, streamer, format)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	output := c.Path(outputFlag)
	if output == "" {
		printf(c.App.Writer, "%s", data)
		return nil
	}
	//nolint:gosec
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write message to %q", output)
	}
	cc.logger.Infow("message written", "path", output, "points", msg.NumPoints, "bytes", len(data))
	return nil
}

// ExportPCDAction writes the point cloud of a depth frame to a PCD file.
func ExportPCDAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	dataType, err := pointcloud.PCDTypeFromString(c.String(pcdTypeFlag))
	if err != nil {
		return err
	}
	pc, err := cc.pointCloudFromFlags(c)
	if err != nil {
		return err
	}
	output := c.Path(outputFlag)
	if err := pointcloud.WritePCDFile(pc, output, dataType); err != nil {
		return err
	}
	printf(c.App.Writer, "wrote %d points to %s", pc.NumPoints(), output)
	return nil
}

// processContext falls back to a background context when the app was run without one.
func processContext(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
