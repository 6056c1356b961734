// Package batch converts whole directories of depth and color frames into point cloud files.
package batch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/transform"
	"go.viam.com/depthcloud/utils"
)

// Orchestrator runs frames through loading, projection, filtering and writing. A frame that
// fails is recorded and does not stop the others.
type Orchestrator struct {
	cfg     *config.Config
	model   *transform.CameraModel
	opts    transform.BuildOptions
	plyOpts pointcloud.PLYOptions
	logger  golog.Logger
}

// NewOrchestrator validates the config and builds the camera model shared by every frame.
func NewOrchestrator(cfg *config.Config, logger golog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.Copy()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := cfg.CameraModel()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:     cfg,
		model:   model,
		opts:    cfg.BuildOptions(),
		plyOpts: pointcloud.PLYOptions{Precision: cfg.Precision},
		logger:  logger,
	}, nil
}

// Run converts every frame pair of inputDir, writing one PLY per frame and the metadata file
// into outputDir. Errors are only returned for problems that stop the whole run: an unreadable
// input directory, an output directory that cannot be created, cancellation, or a metadata file
// that cannot be written. On cancellation the metadata collected so far is returned but not written.
func (o *Orchestrator) Run(ctx context.Context, inputDir, outputDir string) (*Metadata, error) {
	logger := o.runLogger()
	if err := checkDir(inputDir); err != nil {
		return nil, err
	}
	frames, err := Discover(inputDir, o.cfg)
	if err != nil {
		return nil, err
	}
	if err := prepareOutputDir(outputDir); err != nil {
		return nil, err
	}
	logger.Infow("starting batch", "input", inputDir, "output", outputDir, "frames", len(frames),
		"workers", o.cfg.WorkerCount())
	return o.process(ctx, logger, inputDir, outputDir, frames)
}

// RunFrames converts frames that are already in memory. source names where they came from in
// the metadata. Frame names must be unique plain file names.
func (o *Orchestrator) RunFrames(ctx context.Context, source string, frames []*Frame, outputDir string) (*Metadata, error) {
	logger := o.runLogger()
	seen := make(map[string]struct{}, len(frames))
	for _, f := range frames {
		if f == nil {
			return nil, errors.New("nil frame")
		}
		if err := validFrameName(f.Name); err != nil {
			return nil, err
		}
		if _, dup := seen[f.Name]; dup {
			return nil, errors.Errorf("duplicate frame name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.State() != FrameDiscovered && f.State() != FrameSkipped {
			return nil, errors.Errorf("frame %s was already processed (%s)", f.Name, f.State())
		}
	}
	if err := prepareOutputDir(outputDir); err != nil {
		return nil, err
	}
	logger.Infow("starting batch", "source", source, "output", outputDir, "frames", len(frames),
		"workers", o.cfg.WorkerCount())
	return o.process(ctx, logger, source, outputDir, frames)
}

func (o *Orchestrator) runLogger() golog.Logger {
	return o.logger.With("run", uuid.NewString())
}

func (o *Orchestrator) process(
	ctx context.Context,
	logger golog.Logger,
	source, outputDir string,
	frames []*Frame,
) (*Metadata, error) {
	meta := NewMetadata(source, outputDir)
	o.processFrames(ctx, logger, frames, outputDir, func(f *Frame, result *FrameResult) {
		switch f.State() {
		case FrameRecorded:
			meta.recordResult(*result)
		case FrameSkipped:
			meta.recordSkipped(f.Name, f.Err())
		case FrameFailed:
			meta.recordFailed(f.Name, f.Err())
		}
	})
	meta.finalize()

	counts := lo.CountValuesBy(frames, func(f *Frame) string { return f.State().String() })
	if err := ctx.Err(); err != nil {
		logger.Warnw("batch interrupted, metadata not written", "states", counts)
		return meta, errors.Wrap(err, "batch interrupted")
	}

	metaPath := filepath.Join(outputDir, o.cfg.MetadataFile)
	if err := meta.WriteFile(metaPath); err != nil {
		return meta, err
	}
	logger.Infow("batch complete",
		"recorded", len(meta.Results), "skipped", len(meta.Skipped), "failed", len(meta.Failed),
		"points", meta.TotalPoints(), "metadata", metaPath)
	return meta, nil
}

// processFrames runs the frames on the worker pool and calls done for each frame once it reached
// a terminal state. Skipped frames are reported without being processed. No new frame is started
// once ctx is done.
func (o *Orchestrator) processFrames(
	ctx context.Context,
	logger golog.Logger,
	frames []*Frame,
	outputDir string,
	done func(f *Frame, result *FrameResult),
) {
	var g errgroup.Group
	g.SetLimit(o.cfg.WorkerCount())
	for _, f := range frames {
		if ctx.Err() != nil {
			break
		}
		if f.State() == FrameSkipped {
			logger.Infow("skipping frame", "frame", f.Name, "reason", f.Err())
			done(f, nil)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			result, err := o.processFrame(logger, f, outputDir)
			if err != nil {
				f.fail(err)
				logger.Warnw("frame failed", "frame", f.Name, "kind", utils.ErrorKind(err), "error", err)
			}
			done(f, result)
			return nil
		})
	}
	//nolint:errcheck
	g.Wait()
}

// processFrame takes one frame from Discovered to Recorded.
func (o *Orchestrator) processFrame(logger golog.Logger, f *Frame, outputDir string) (*FrameResult, error) {
	if f.fromFiles() {
		if err := f.load(); err != nil {
			return nil, err
		}
		// images are only needed until projection
		defer func() {
			f.Depth, f.Color = nil, nil
		}()
	} else if f.Depth == nil || f.Color == nil {
		return nil, errors.Errorf("frame %s is missing its depth map or color image", f.Name)
	}
	if err := f.transition(FrameLoaded); err != nil {
		return nil, err
	}
	dm := f.Depth
	if domainMax := o.model.DepthScale().DomainMax; dm.DomainMax() != domainMax {
		logger.Debugw("rescaling depth map", "frame", f.Name, "from", dm.DomainMax(), "to", domainMax)
		dm = dm.Rescale(domainMax)
	}
	if logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		logDepthStats(logger, f.Name, dm)
	}

	points, err := transform.ProjectRGBD(dm, f.Color, o.model, o.opts.Stride)
	if err != nil {
		return nil, err
	}
	if err := f.transition(FrameProjected); err != nil {
		return nil, err
	}

	cloud, err := transform.FilterDepthRange(points, o.opts.ZMin, o.opts.ZMax)
	if err != nil {
		return nil, err
	}
	if err := f.transition(FrameFiltered); err != nil {
		return nil, err
	}
	if logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		logRetainedDepth(logger, f.Name, len(points), cloud)
	}

	plyPath := filepath.Join(outputDir, f.plyName())
	if err := pointcloud.WriteToPLYFile(cloud, plyPath, o.plyOpts); err != nil {
		return nil, err
	}
	if err := f.transition(FrameWritten); err != nil {
		return nil, err
	}

	if err := f.transition(FrameRecorded); err != nil {
		return nil, err
	}
	logger.Debugw("frame written", "frame", f.Name, "points", cloud.Size(), "ply", plyPath)
	return &FrameResult{Frame: f.Name, PLYFile: plyPath, NumPoints: cloud.Size()}, nil
}

// load reads the frame's depth map and color image from disk.
func (f *Frame) load() error {
	dm, err := rimage.ReadDepthMapFromFile(f.DepthPath)
	if err != nil {
		return err
	}
	img, err := rimage.ReadImageFromFile(f.ColorPath)
	if err != nil {
		return err
	}
	f.Depth, f.Color = dm, img
	return nil
}

func logDepthStats(logger golog.Logger, frame string, dm *rimage.DepthMap) {
	s, err := dm.Stats()
	if err != nil {
		logger.Debugw("no depth statistics", "frame", frame, "error", err)
		return
	}
	logger.Debugw("loaded frame", "frame", frame, "width", dm.Width(), "height", dm.Height(),
		"depth_min", s.Min, "depth_max", s.Max, "depth_mean", s.Mean, "depth_median", s.Median)
}

func logRetainedDepth(logger golog.Logger, frame string, sampled int, cloud pointcloud.PointCloud) {
	zs := make(stats.Float64Data, 0, cloud.Size())
	cloud.Iterate(func(p r3.Vector, d pointcloud.Data) bool {
		zs = append(zs, p.Z)
		return true
	})
	fields := []interface{}{"frame", frame, "sampled", sampled, "retained", len(zs)}
	if len(zs) > 0 {
		mean, _ := zs.Mean()
		median, _ := zs.Median()
		mn, _ := zs.Min()
		mx, _ := zs.Max()
		fields = append(fields, "z_min", mn, "z_max", mx, "z_mean", mean, "z_median", median)
	}
	logger.Debugw("filtered frame", fields...)
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return utils.NewIOError(err, dir)
	}
	if !info.IsDir() {
		return utils.NewIOError(errors.New("not a directory"), dir)
	}
	return nil
}

func prepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return utils.NewIOError(err, dir)
	}
	return checkDir(dir)
}
