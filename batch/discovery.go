package batch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/utils"
)

// Discover pairs the depth and color files of inputDir by the stem they share and returns one
// frame per stem, ordered by stem. Stems missing one side come back already Skipped with an
// ErrMissingPair reason. Files matching neither suffix are ignored, and so are subdirectories.
// If cfg.MaxFrames is set only the first that many stems are returned.
func Discover(inputDir string, cfg *config.Config) ([]*Frame, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, utils.NewIOError(err, inputDir)
	}

	// colorRank keeps the first configured suffix when a stem has several color files.
	colorRank := map[string]int{}
	byStem := map[string]*Frame{}
	frameFor := func(stem string) *Frame {
		f, ok := byStem[stem]
		if !ok {
			f = NewFileFrame(stem, "", "")
			byStem[stem] = f
		}
		return f
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if stem, ok := strings.CutSuffix(name, cfg.DepthSuffix); ok {
			if stem != "" {
				frameFor(stem).DepthPath = filepath.Join(inputDir, name)
			}
			continue
		}
		for rank, suffix := range cfg.ColorSuffixes {
			stem, ok := strings.CutSuffix(name, suffix)
			if !ok || stem == "" {
				continue
			}
			f := frameFor(stem)
			if prev, seen := colorRank[stem]; !seen || rank < prev {
				f.ColorPath = filepath.Join(inputDir, name)
				colorRank[stem] = rank
			}
			break
		}
	}

	frames := make([]*Frame, 0, len(byStem))
	for _, f := range byStem {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Name < frames[j].Name })
	if cfg.MaxFrames > 0 && len(frames) > cfg.MaxFrames {
		frames = frames[:cfg.MaxFrames]
	}

	for _, f := range frames {
		var reason error
		switch {
		case f.ColorPath == "":
			reason = errors.Wrapf(utils.ErrMissingPair, "no color image for %s", filepath.Base(f.DepthPath))
		case f.DepthPath == "":
			reason = errors.Wrapf(utils.ErrMissingPair, "no depth map for %s", filepath.Base(f.ColorPath))
		default:
			continue
		}
		if err := f.skip(reason); err != nil {
			return nil, err
		}
	}
	return frames, nil
}
