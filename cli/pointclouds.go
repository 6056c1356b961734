package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcloud/batch"
	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
)

// flagOverrides maps pipeline flags to the config fields they override.
var flagOverrides = []struct {
	flag, key string
	get       func(c *cli.Context, name string) interface{}
}{
	{flagStride, "stride", func(c *cli.Context, n string) interface{} { return c.Int(n) }},
	{flagZMin, "z_min", func(c *cli.Context, n string) interface{} { return c.Float64(n) }},
	{flagZMax, "z_max", func(c *cli.Context, n string) interface{} { return c.Float64(n) }},
	{flagMaxDepth, "max_depth_meters", func(c *cli.Context, n string) interface{} { return c.Float64(n) }},
	{flagDepthDomainMax, "depth_domain_max", func(c *cli.Context, n string) interface{} { return c.Int(n) }},
	{flagFocalScale, "focal_scale", func(c *cli.Context, n string) interface{} { return c.Float64(n) }},
	{flagIntrinsics, "intrinsics_file", func(c *cli.Context, n string) interface{} { return c.String(n) }},
	{flagWorkers, "workers", func(c *cli.Context, n string) interface{} { return c.Int(n) }},
	{flagMaxFrames, "max_frames", func(c *cli.Context, n string) interface{} { return c.Int(n) }},
	{flagPrecision, "precision", func(c *cli.Context, n string) interface{} { return c.Int(n) }},
	{flagDebug, "debug", func(c *cli.Context, n string) interface{} { return c.Bool(n) }},
	{flagLogFile, "log_file", func(c *cli.Context, n string) interface{} { return c.String(n) }},
}

// pipeline is what the run and watch commands need to start converting.
type pipeline struct {
	orchestrator *batch.Orchestrator
	inputDir     string
	outputDir    string
	logCloser    io.Closer
}

func newPipeline(c *cli.Context) (*pipeline, error) {
	if c.NArg() != 1 {
		return nil, errors.Errorf("expected exactly one input directory, got %d arguments", c.NArg())
	}
	inputDir := filepath.Clean(c.Args().First())

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		cfg, err = config.Read(path, newLogger(c.Bool(flagDebug)))
		if err != nil {
			return nil, err
		}
	}
	overrides := map[string]interface{}{}
	for _, o := range flagOverrides {
		if c.IsSet(o.flag) {
			overrides[o.key] = o.get(c, o.flag)
		}
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}

	outputDir := c.String(flagOutput)
	if outputDir == "" {
		outputDir = inputDir + "_pointclouds"
	}

	p := &pipeline{inputDir: inputDir, outputDir: outputDir}
	logger := newLogger(cfg.Debug)
	if cfg.LogFile != "" {
		logger, p.logCloser = logging.NewFileLogger("depthcloud", cfg.LogFile, cfg.Debug)
	}
	orchestrator, err := batch.NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, multierr.Combine(err, p.Close())
	}
	p.orchestrator = orchestrator
	return p, nil
}

// Close releases the log file, if any.
func (p *pipeline) Close() error {
	if p.logCloser == nil {
		return nil
	}
	return p.logCloser.Close()
}

func newLogger(debug bool) golog.Logger {
	if debug {
		return logging.NewDebugLogger("depthcloud")
	}
	return logging.NewLogger("depthcloud")
}

// RunAction converts every frame pair of the input directory.
func RunAction(c *cli.Context) error {
	p, err := newPipeline(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(p.Close)
	meta, err := p.orchestrator.Run(c.Context, p.inputDir, p.outputDir)
	if meta != nil {
		printSummary(c.App.Writer, meta)
	}
	return err
}

// WatchAction converts frame pairs as they appear until interrupted.
func WatchAction(c *cli.Context) error {
	p, err := newPipeline(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(p.Close)
	meta, err := p.orchestrator.Watch(c.Context, p.inputDir, p.outputDir)
	if meta != nil {
		printSummary(c.App.Writer, meta)
	}
	return err
}

// InspectAction summarizes a PLY file, or a metadata file if it ends in .json.
func InspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.Errorf("expected exactly one file, got %d arguments", c.NArg())
	}
	fn := c.Args().First()
	if strings.EqualFold(filepath.Ext(fn), ".json") {
		meta, err := batch.ReadMetadataFile(fn)
		if err != nil {
			return err
		}
		printSummary(c.App.Writer, meta)
		return nil
	}
	vertices, err := pointcloud.ReadPLYFile(fn)
	if err != nil {
		return err
	}
	return pointcloud.WritePLYSummary(vertices, c.App.Writer)
}

// SchemaAction prints the JSON schema of the configuration file.
func SchemaAction(c *cli.Context) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(schema))
	return err
}

// printSummary prints a table with one row per frame of the run.
func printSummary(out io.Writer, meta *batch.Metadata) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Frame", "Status", "Points", "Detail"})
	for _, r := range meta.Results {
		t.AppendRow(table.Row{r.Frame, "written", r.NumPoints, r.PLYFile})
	}
	for _, s := range meta.Skipped {
		t.AppendRow(table.Row{s.Frame, "skipped", "", s.Reason})
	}
	for _, f := range meta.Failed {
		t.AppendRow(table.Row{f.Frame, "failed", "", fmt.Sprintf("%s: %s", f.Kind, f.Error)})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%d written", meta.TotalFrames), meta.TotalPoints(), meta.OutputDirectory})
	t.Render()
}
