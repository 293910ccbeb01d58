package cli

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/tabletop/calibration"
	"go.viam.com/tabletop/rimage/transform"
)

type statusSummary struct {
	CalibrationPath string             `json:"calibration_path"`
	Calibration     calibration.Status `json:"calibration"`
	CalibrationDate string             `json:"calibration_date,omitempty"`
	TableHeight     *float64           `json:"table_height,omitempty"`
	Intrinsics      *intrinsicsSummary `json:"intrinsics,omitempty"`
}

type intrinsicsSummary struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Fx                float64 `json:"fx"`
	Fy                float64 `json:"fy"`
	Cx                float64 `json:"cx"`
	Cy                float64 `json:"cy"`
	ReprojectionError float64 `json:"reprojection_error"`
	Distorted         bool    `json:"distorted"`
}

func summarizeIntrinsics(intr *transform.CameraIntrinsics) *intrinsicsSummary {
	if intr == nil {
		return nil
	}
	return &intrinsicsSummary{
		Width:             intr.Width,
		Height:            intr.Height,
		Fx:                intr.Fx,
		Fy:                intr.Fy,
		Cx:                intr.Ppx,
		Cy:                intr.Ppy,
		ReprojectionError: intr.ReprojectionError,
		Distorted:         intr.HasDistortion(),
	}
}

// StatusAction prints which parts of the persisted calibration are present.
func StatusAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	path := c.Path(calibrationFlag)
	if path == "" {
		path = cc.conf.CalibrationPath
	}
	if path == "" {
		return errors.Errorf("no --%s given and calibration_path is not configured", calibrationFlag)
	}

	mapper := calibration.NewCoordinateMapper(calibration.NewCalibrationData(nil), cc.logger.Sublogger("mapper"))
	if err := mapper.LoadCalibration(path); err != nil {
		return err
	}
	cd := mapper.Calibration()
	summary := statusSummary{
		CalibrationPath: path,
		Calibration:     mapper.CalibrationStatus(),
		CalibrationDate: cd.CalibrationDate,
		Intrinsics:      summarizeIntrinsics(cd.Intrinsics),
	}
	if cd.TablePlane != nil {
		h := cd.TableHeight
		summary.TableHeight = &h
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
