package batch

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/depthcloud/utils"
)

// FrameResult is a frame that was written.
type FrameResult struct {
	Frame     string `json:"frame"`
	PLYFile   string `json:"ply_file"`
	NumPoints int    `json:"num_points"`
}

// SkippedFrame is a frame that was never processed.
type SkippedFrame struct {
	Frame  string `json:"frame"`
	Reason string `json:"reason"`
}

// FailedFrame is a frame whose processing failed.
type FailedFrame struct {
	Frame string `json:"frame"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Metadata summarizes a run. It is safe to record into from several goroutines.
type Metadata struct {
	SourceDirectory string         `json:"source_directory"`
	OutputDirectory string         `json:"output_directory"`
	TotalFrames     int            `json:"total_frames"`
	Results         []FrameResult  `json:"results"`
	Skipped         []SkippedFrame `json:"skipped"`
	Failed          []FailedFrame  `json:"failed"`

	mu sync.Mutex
}

// NewMetadata returns empty metadata for a run from source into outputDir.
func NewMetadata(source, outputDir string) *Metadata {
	return &Metadata{
		SourceDirectory: source,
		OutputDirectory: outputDir,
		Results:         []FrameResult{},
		Skipped:         []SkippedFrame{},
		Failed:          []FailedFrame{},
	}
}

func (m *Metadata) recordResult(r FrameResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results = append(m.Results, r)
	m.TotalFrames = len(m.Results)
}

func (m *Metadata) recordSkipped(frame string, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Skipped = append(m.Skipped, SkippedFrame{Frame: frame, Reason: reason.Error()})
}

func (m *Metadata) recordFailed(frame string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = append(m.Failed, FailedFrame{Frame: frame, Kind: utils.ErrorKind(cause), Error: cause.Error()})
}

// finalize orders every list by frame so the document does not depend on processing order.
func (m *Metadata) finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.Slice(m.Results, func(i, j int) bool { return m.Results[i].Frame < m.Results[j].Frame })
	sort.Slice(m.Skipped, func(i, j int) bool { return m.Skipped[i].Frame < m.Skipped[j].Frame })
	sort.Slice(m.Failed, func(i, j int) bool { return m.Failed[i].Frame < m.Failed[j].Frame })
	m.TotalFrames = len(m.Results)
}

// TotalPoints is the number of points written across all frames.
func (m *Metadata) TotalPoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.SumBy(m.Results, func(r FrameResult) int { return r.NumPoints })
}

// Encode writes the metadata as indented JSON.
func (m *Metadata) Encode(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// WriteFile writes the metadata to fn, replacing it atomically.
func (m *Metadata) WriteFile(fn string) error {
	return utils.WriteFileAtomic(fn, 0o644, m.Encode)
}

// ReadMetadataFile reads metadata written by WriteFile.
func ReadMetadataFile(fn string) (_ *Metadata, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, utils.NewIOError(err, fn)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	m := &Metadata{}
	if err := json.NewDecoder(f).Decode(m); err != nil {
		return nil, errors.Wrapf(utils.ErrEncoding, "%s: %v", fn, err)
	}
	return m, nil
}
