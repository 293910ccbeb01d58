package cli

import (
	"encoding/json"
	"image"
	"runtime"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/tabletop/calibration"
)

// calibrationSummary is printed after a successful intrinsic calibration.
type calibrationSummary struct {
	Output        string    `json:"output"`
	ImagesFound   int       `json:"images_found"`
	ImagesUsed    int       `json:"images_used"`
	RMSError      float64   `json:"rms_error"`
	PerViewErrors []float64 `json:"per_view_errors"`
	Fx            float64   `json:"fx"`
	Fy            float64   `json:"fy"`
	Cx            float64   `json:"cx"`
	Cy            float64   `json:"cy"`
}

// CalibrateIntrinsicsAction detects the checkerboard in every matching image, solves for the
// intrinsics and saves them.
func CalibrateIntrinsicsAction(c *cli.Context) error {
	cc, err := newCommandContext(c)
	if err != nil {
		return err
	}
	output := c.Path(outputFlag)
	if output == "" {
		output = cc.conf.IntrinsicsPath
	}
	if output == "" {
		return errors.Errorf("no --%s given and intrinsics_path is not configured", outputFlag)
	}

	files, err := imageFiles(c.String(imagesFlag))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no images match %q", c.String(imagesFlag))
	}

	calibrator, err := calibration.NewIntrinsicCalibrator(cc.conf.Calibration.IntrinsicConfig(),
		cc.logger.Sublogger("intrinsics"))
	if err != nil {
		return err
	}
	// Detection is independent per image; observations are added in file order afterwards.
	detections := make([][]r2.Point, len(files))
	sizes := make([]image.Point, len(files))
	group, ctx := errgroup.WithContext(processContext(c))
	group.SetLimit(runtime.NumCPU())
	for i, path := range files {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := readImage(path)
			if err != nil {
				return err
			}
			found, corners := calibrator.DetectCorners(img)
			if !found {
				cc.logger.Infow("no checkerboard, skipping image", "path", path)
				return nil
			}
			detections[i], sizes[i] = corners, img.Bounds().Size()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, corners := range detections {
		if corners == nil {
			continue
		}
		if calibrator.NumImages() >= cc.conf.Calibration.MaxImages {
			cc.logger.Warnw("image limit reached, ignoring the rest", "max_images", cc.conf.Calibration.MaxImages)
			break
		}
		if err := calibrator.AddObservation(corners, sizes[i]); err != nil {
			cc.logger.Infow("skipping image", "path", files[i], "reason", err)
			continue
		}
		cc.logger.Debugw("checkerboard found", "path", files[i])
	}

	res, err := calibrator.Calibrate()
	if err != nil {
		return err
	}
	if err := calibrator.SaveIntrinsics(output); err != nil {
		return err
	}

	out, err := json.MarshalIndent(calibrationSummary{
		Output:        output,
		ImagesFound:   len(files),
		ImagesUsed:    res.Intrinsics.NumImagesUsed,
		RMSError:      res.RMSError,
		PerViewErrors: res.PerViewErrors,
		Fx:            res.Intrinsics.Fx,
		Fy:            res.Intrinsics.Fy,
		Cx:            res.Intrinsics.Ppx,
		Cy:            res.Intrinsics.Ppy,
	}, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
