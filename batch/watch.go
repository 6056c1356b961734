package batch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcloud/utils"
)

// Watch converts frame pairs as they show up in inputDir until ctx is done, then writes the
// metadata of everything it converted. Pairs already present when Watch starts are converted
// first. A frame that fails is tried again the next time files change, since its files may
// still have been in the middle of being written. Stems still unpaired at the end are recorded
// as skipped.
func (o *Orchestrator) Watch(ctx context.Context, inputDir, outputDir string) (*Metadata, error) {
	logger := o.runLogger()
	if err := checkDir(inputDir); err != nil {
		return nil, err
	}
	if err := prepareOutputDir(outputDir); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, utils.NewIOError(err, inputDir)
	}
	defer goutils.UncheckedErrorFunc(watcher.Close)
	if err := watcher.Add(inputDir); err != nil {
		return nil, utils.NewIOError(err, inputDir)
	}

	w := &frameWatcher{
		o:         o,
		logger:    logger,
		inputDir:  inputDir,
		outputDir: outputDir,
		meta:      NewMetadata(inputDir, outputDir),
		recorded:  map[string]bool{},
		failed:    map[string]error{},
	}
	logger.Infow("watching for frames", "input", inputDir, "output", outputDir)
	w.scan(ctx)

	trigger := make(chan struct{}, 1)
	debounced := debounce.New(time.Duration(o.cfg.WatchDebounceMs) * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return w.finish()
		case event, ok := <-watcher.Events:
			if !ok {
				return w.finish()
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !o.isFrameFile(filepath.Base(event.Name)) {
				continue
			}
			debounced(func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			w.scan(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return w.finish()
			}
			logger.Warnw("watch error", "error", err)
		}
	}
}

func (o *Orchestrator) isFrameFile(name string) bool {
	if strings.HasSuffix(name, o.cfg.DepthSuffix) {
		return true
	}
	return lo.SomeBy(o.cfg.ColorSuffixes, func(s string) bool { return strings.HasSuffix(name, s) })
}

type frameWatcher struct {
	o         *Orchestrator
	logger    golog.Logger
	inputDir  string
	outputDir string
	meta      *Metadata

	mu       sync.Mutex
	recorded map[string]bool
	failed   map[string]error
}

// scan converts every complete pair not converted yet.
func (w *frameWatcher) scan(ctx context.Context) {
	frames, err := Discover(w.inputDir, w.o.cfg)
	if err != nil {
		w.logger.Warnw("failed to scan for frames", "error", err)
		return
	}
	w.mu.Lock()
	pending := lo.Filter(frames, func(f *Frame, _ int) bool {
		return f.State() == FrameDiscovered && !w.recorded[f.Name]
	})
	w.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	w.logger.Debugw("converting new frames", "frames", len(pending))
	w.o.processFrames(ctx, w.logger, pending, w.outputDir, func(f *Frame, result *FrameResult) {
		w.mu.Lock()
		defer w.mu.Unlock()
		switch f.State() {
		case FrameRecorded:
			w.recorded[f.Name] = true
			delete(w.failed, f.Name)
			w.meta.recordResult(*result)
		case FrameFailed:
			w.failed[f.Name] = f.Err()
		}
	})
}

// finish records what never succeeded and writes the metadata.
func (w *frameWatcher) finish() (*Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, err := range w.failed {
		w.meta.recordFailed(name, err)
	}
	if frames, err := Discover(w.inputDir, w.o.cfg); err == nil {
		for _, f := range frames {
			if f.State() == FrameSkipped && !w.recorded[f.Name] {
				w.meta.recordSkipped(f.Name, f.Err())
			}
		}
	}
	w.meta.finalize()

	metaPath := filepath.Join(w.outputDir, w.o.cfg.MetadataFile)
	if err := w.meta.WriteFile(metaPath); err != nil {
		return w.meta, err
	}
	w.logger.Infow("watch stopped",
		"recorded", len(w.meta.Results), "skipped", len(w.meta.Skipped), "failed", len(w.meta.Failed),
		"metadata", metaPath)
	return w.meta, nil
}
