// Package cli contains the tabletop command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	imagesFlag      = "images"
	outputFlag      = "output"
	depthFlag       = "depth"
	colorFlag       = "color"
	depthModeFlag   = "mode"
	widthFlag       = "width"
	heightFlag      = "height"
	downsampleFlag  = "downsample"
	formatFlag      = "format"
	pcdTypeFlag     = "pcd-type"
	calibrationFlag = "calibration"
	intrinsicsFlag  = "intrinsics"
	cornersFlag     = "corners"
	flipXFlag       = "flip-x"
	flipYFlag       = "flip-y"
	flipZFlag       = "flip-z"
)

// depthFlags are shared by every command that reads a depth frame.
var depthFlags = []cli.Flag{
	&cli.PathFlag{
		Name:     depthFlag,
		Aliases:  []string{"d"},
		Usage:    "depth frame as a 16 bit grayscale PNG or raw little endian uint16 samples",
		Required: true,
	},
	&cli.PathFlag{
		Name:  colorFlag,
		Usage: "color image registered to the depth frame (PNG, JPEG or PPM)",
	},
	&cli.StringFlag{
		Name:  depthModeFlag,
		Usage: "depth sample encoding, raw11 or mm; overrides the config",
	},
	&cli.IntFlag{
		Name:  widthFlag,
		Usage: "frame width of a raw depth file",
		Value: 640,
	},
	&cli.IntFlag{
		Name:  heightFlag,
		Usage: "frame height of a raw depth file",
		Value: 480,
	},
	&cli.IntFlag{
		Name:  downsampleFlag,
		Usage: "keep every n-th row and column; overrides the config",
	},
	&cli.PathFlag{
		Name:  intrinsicsFlag,
		Usage: "camera intrinsics JSON; overrides the config",
	},
}

var app = &cli.App{
	Name:            "tabletop",
	Usage:           "calibrate a depth sensor over a projected table and process its frames",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "calibrate-intrinsics",
			Usage:     "estimate camera intrinsics from checkerboard images",
			UsageText: "tabletop calibrate-intrinsics --images 'captures/*.png' [--output intrinsics.json]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     imagesFlag,
					Usage:    "glob matching the checkerboard images",
					Required: true,
				},
				&cli.PathFlag{
					Name:    outputFlag,
					Aliases: []string{"o"},
					Usage:   "where to write the intrinsics; defaults to intrinsics_path from the config",
				},
			},
			Action: CalibrateIntrinsicsAction,
		},
		{
			Name:      "calibrate-table",
			Usage:     "detect the table plane in a depth frame and save it to the calibration",
			UsageText: "tabletop calibrate-table --depth frame.png [--corners 'x,y,z;x,y,z;x,y,z;x,y,z'] [--flip-y=false]",
			Flags: append([]cli.Flag{
				&cli.PathFlag{
					Name:    outputFlag,
					Aliases: []string{"o"},
					Usage:   "calibration JSON to update; defaults to calibration_path from the config",
				},
				&cli.StringFlag{
					Name:  cornersFlag,
					Usage: "table corners in sensor meters, ordered top left, top right, bottom right, bottom left",
				},
				&cli.BoolFlag{
					Name:  flipXFlag,
					Usage: "mirror the sensor X axis",
				},
				&cli.BoolFlag{
					Name:  flipYFlag,
					Usage: "mirror the sensor Y axis",
				},
				&cli.BoolFlag{
					Name:  flipZFlag,
					Usage: "mirror the sensor Z axis",
				},
			}, depthFlags...),
			Action: CalibrateTableAction,
		},
		{
			Name:   "process",
			Usage:  "find the table and the objects on it in a depth frame",
			Flags:  depthFlags,
			Action: ProcessAction,
		},
		{
			Name:  "encode",
			Usage: "encode a depth frame as a point cloud stream message",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:  formatFlag,
					Usage: "message format, binary or json",
					Value: "binary",
				},
				&cli.PathFlag{
					Name:    outputFlag,
					Aliases: []string{"o"},
					Usage:   "write the message here instead of standard output",
				},
			}, depthFlags...),
			Action: EncodeAction,
		},
		{
			Name:  "export-pcd",
			Usage: "write the point cloud of a depth frame as a PCD file",
			Flags: append([]cli.Flag{
				&cli.PathFlag{
					Name:     outputFlag,
					Aliases:  []string{"o"},
					Usage:    "PCD file to write",
					Required: true,
				},
				&cli.StringFlag{
					Name:  pcdTypeFlag,
					Usage: "PCD data encoding, ascii, binary or binary_compressed",
					Value: "binary",
				},
			}, depthFlags...),
			Action: ExportPCDAction,
		},
		{
			Name:  "status",
			Usage: "print the state of the persisted calibration",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  calibrationFlag,
					Usage: "calibration JSON; defaults to calibration_path from the config",
				},
			},
			Action: StatusAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
