// Package cli contains the depthcloud command line interface.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagOutput         = "output"
	flagConfig         = "config"
	flagStride         = "stride"
	flagZMin           = "z-min"
	flagZMax           = "z-max"
	flagMaxDepth       = "max-depth"
	flagDepthDomainMax = "depth-domain-max"
	flagFocalScale     = "focal-scale"
	flagIntrinsics     = "intrinsics"
	flagWorkers        = "workers"
	flagMaxFrames      = "max-frames"
	flagPrecision      = "precision"
	flagDebug          = "debug"
	flagLogFile        = "log-file"
)

// pipelineFlags are shared by the commands that convert frames.
var pipelineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    flagOutput,
		Aliases: []string{"o"},
		Usage:   "write point clouds to `DIR` (default: <input-dir>_pointclouds)",
	},
	&cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`",
	},
	&cli.IntFlag{
		Name:  flagStride,
		Usage: "sample every `N`th pixel of every Nth row",
	},
	&cli.Float64Flag{
		Name:  flagZMin,
		Usage: "drop points at or closer than `METERS`",
	},
	&cli.Float64Flag{
		Name:  flagZMax,
		Usage: "drop points at or farther than `METERS`",
	},
	&cli.Float64Flag{
		Name:  flagMaxDepth,
		Usage: "depth in `METERS` of the largest depth sample",
	},
	&cli.IntFlag{
		Name:  flagDepthDomainMax,
		Usage: "largest depth sample value, 255 for 8-bit and 65535 for 16-bit depth maps",
	},
	&cli.Float64Flag{
		Name:  flagFocalScale,
		Usage: "focal length as a fraction of the shorter image side when uncalibrated",
	},
	&cli.StringFlag{
		Name:  flagIntrinsics,
		Usage: "load calibrated camera intrinsics from JSON `FILE`",
	},
	&cli.IntFlag{
		Name:  flagWorkers,
		Usage: "convert up to `N` frames at once (default: number of CPUs)",
	},
	&cli.IntFlag{
		Name:  flagMaxFrames,
		Usage: "only consider the first `N` frames",
	},
	&cli.IntFlag{
		Name:  flagPrecision,
		Usage: "digits after the decimal point of written coordinates",
	},
	&cli.StringFlag{
		Name:  flagLogFile,
		Usage: "also append JSON logs to `FILE`, rotating it as it grows",
	},
	&cli.BoolFlag{
		Name:    flagDebug,
		Aliases: []string{"vvv"},
		Usage:   "enable debug logging",
	},
}

var app = &cli.App{
	Name:            "depthcloud",
	Usage:           "turn depth maps and color images into colored point clouds",
	HideHelpCommand: true,
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "convert every frame pair in a directory",
			ArgsUsage: "<input-dir>",
			Flags:     pipelineFlags,
			Action:    RunAction,
		},
		{
			Name:      "watch",
			Usage:     "convert frame pairs as they are written to a directory, until interrupted",
			ArgsUsage: "<input-dir>",
			Flags:     pipelineFlags,
			Action:    WatchAction,
		},
		{
			Name:      "inspect",
			Usage:     "summarize a PLY file or a run's metadata file",
			ArgsUsage: "<file>",
			Action:    InspectAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the configuration file",
			Action: SchemaAction,
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
