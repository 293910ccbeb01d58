package cli

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/tabletop/calibration"
	"go.viam.com/tabletop/rimage/transform"
)

type tableSummary struct {
	CalibrationPath string             `json:"calibration_path"`
	TablePlane      [4]float64         `json:"table_plane"`
	TableHeight     float64            `json:"table_height"`
	Inliers         int                `json:"inliers"`
	Points          int                `json:"points"`
	Calibration     calibration.Status `json:"calibration"`
}

// parseCorners reads "x,y,z;x,y,z;x,y,z;x,y,z" in meters, ordered TL, TR, BR, BL.
func parseCorners(s string) ([4]r3.Vector, error) {
	var corners [4]r3.Vector
	parts := strings.Split(s, ";")
	if len(parts) != len(corners) {
		return corners, errors.Errorf("expected 4 corners separated by ';', got %d", len(parts))
	}
	for i, part := range parts {
		fields := lo.Map(strings.Split(part, ","), func(f string, _ int) string { return strings.TrimSpace(f) })
		if len(fields) != 3 {
			return corners, errors.Errorf("corner %d: expected x,y,z, got %q", i, part)
		}
		var xyz [3]float64
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return corners, errors.Wrapf(err, "corner %d", i)
			}
			xyz[j] = v
		}
		corners[i] = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}
	return corners, nil
}

// tableMapper starts from the calibration already at path so a rerun only replaces the table.
// A new calibration uses intrinsics.
func (cc *commandContext) tableMapper(path string, intrinsics transform.CameraIntrinsics) (*calibration.CoordinateMapper, error) {
	mapper := calibration.NewCoordinateMapper(calibration.NewCalibrationData(&intrinsics), cc.logger.Sublogger("mapper"))
	if _, err := os.Stat(path); err == nil {
		if err := mapper.LoadCalibration(path); err != nil {
			return nil, err
		}
	}
	return mapper, nil
}

// CalibrateTableAction detects the table plane in a depth frame and saves it, with any flips and
// screen corners given, to the calibration file.
func CalibrateTableAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	output := c.Path(outputFlag)
	if output == "" {
		output = cc.conf.CalibrationPath
	}
	if output == "" {
		return errors.Errorf("no --%s given and calibration_path is not configured", outputFlag)
	}
	var corners *[4]r3.Vector
	if s := c.String(cornersFlag); s != "" {
		parsed, err := parseCorners(s)
		if err != nil {
			return err
		}
		corners = &parsed
	}

	pc, err := cc.pointCloudFromFlags(c)
	if err != nil {
		return err
	}
	gen, _, err := cc.generator(c)
	if err != nil {
		return err
	}
	mapper, err := cc.tableMapper(output, gen.Intrinsics())
	if err != nil {
		return err
	}

	screen := cc.conf.Calibration
	tc := calibration.NewTableCalibrator(screen.ScreenWidth, screen.ScreenHeight, screen.MarkerSize,
		cc.logger.Sublogger("table"))
	plane, err := tc.DetectTablePlaneRANSAC(pc.Points, calibration.DefaultTableRANSACOptions(), nil)
	if err != nil {
		return err
	}
	result, err := tc.CalibrationData()
	if err != nil {
		return err
	}
	result.ApplyTo(mapper.Calibration())

	flip := func(name string) *bool {
		if !c.IsSet(name) {
			return nil
		}
		v := c.Bool(name)
		return &v
	}
	if x, y, z := flip(flipXFlag), flip(flipYFlag), flip(flipZFlag); x != nil || y != nil || z != nil {
		mapper.SetFlip(x, y, z)
	}
	if corners != nil {
		if err := mapper.CalibrateFromCorners(*corners, screen.ScreenWidth, screen.ScreenHeight); err != nil {
			return err
		}
	}
	if err := mapper.SaveCalibration(output); err != nil {
		return err
	}

	out, err := json.MarshalIndent(tableSummary{
		CalibrationPath: output,
		TablePlane:      plane.Coefficients,
		TableHeight:     result.TableHeight,
		Inliers:         plane.NumInliers(),
		Points:          pc.NumPoints(),
		Calibration:     mapper.CalibrationStatus(),
	}, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
