package batch

import (
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/rimage"
)

// FrameState is where a frame is in its trip through the pipeline.
type FrameState int

// The states a frame moves through. Recorded, Skipped and Failed are terminal.
const (
	FrameDiscovered FrameState = iota
	FrameLoaded
	FrameProjected
	FrameFiltered
	FrameWritten
	FrameRecorded
	FrameSkipped
	FrameFailed
)

var frameStateNames = map[FrameState]string{
	FrameDiscovered: "discovered",
	FrameLoaded:     "loaded",
	FrameProjected:  "projected",
	FrameFiltered:   "filtered",
	FrameWritten:    "written",
	FrameRecorded:   "recorded",
	FrameSkipped:    "skipped",
	FrameFailed:     "failed",
}

func (s FrameState) String() string {
	if name, ok := frameStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no transition leaves the state.
func (s FrameState) Terminal() bool {
	return len(frameTransitions[s]) == 0
}

var frameTransitions = map[FrameState][]FrameState{
	FrameDiscovered: {FrameLoaded, FrameSkipped, FrameFailed},
	FrameLoaded:     {FrameProjected, FrameFailed},
	FrameProjected:  {FrameFiltered, FrameFailed},
	FrameFiltered:   {FrameWritten, FrameFailed},
	FrameWritten:    {FrameRecorded, FrameFailed},
}

// CanTransition reports whether a frame in state s may move to state to.
func (s FrameState) CanTransition(to FrameState) bool {
	for _, next := range frameTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a frame is moved to a state it cannot reach.
var ErrIllegalTransition = errors.New("illegal frame state transition")

// Frame is one depth map and its aligned color image, named by the stem they share.
// A frame is either backed by files or carries its images in memory.
type Frame struct {
	Name      string
	DepthPath string
	ColorPath string

	Depth *rimage.DepthMap
	Color *rimage.Image

	state FrameState
	err   error
}

// NewFrame returns a frame for images already in memory.
func NewFrame(name string, depth *rimage.DepthMap, color *rimage.Image) *Frame {
	return &Frame{Name: name, Depth: depth, Color: color}
}

// NewFileFrame returns a frame backed by a depth file and a color file.
func NewFileFrame(name, depthPath, colorPath string) *Frame {
	return &Frame{Name: name, DepthPath: depthPath, ColorPath: colorPath}
}

// State returns the current state of the frame.
func (f *Frame) State() FrameState {
	return f.state
}

// Err returns why the frame was skipped or failed.
func (f *Frame) Err() error {
	return f.err
}

func (f *Frame) transition(to FrameState) error {
	if !f.state.CanTransition(to) {
		return errors.Wrapf(ErrIllegalTransition, "frame %s: %s -> %s", f.Name, f.state, to)
	}
	f.state = to
	return nil
}

// skip moves the frame to Skipped for the given reason.
func (f *Frame) skip(reason error) error {
	if err := f.transition(FrameSkipped); err != nil {
		return err
	}
	f.err = reason
	return nil
}

// fail moves the frame to Failed. A frame can fail from any state that is not terminal.
func (f *Frame) fail(cause error) {
	if f.state.CanTransition(FrameFailed) {
		f.state = FrameFailed
	}
	f.err = cause
}

// plyName is the file name of the frame's point cloud.
func (f *Frame) plyName() string {
	return f.Name + ".ply"
}

// fromFiles reports whether the frame loads its images from disk.
func (f *Frame) fromFiles() bool {
	return f.DepthPath != "" || f.ColorPath != ""
}

func validFrameName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return errors.Errorf("invalid frame name %q", name)
	}
	return nil
}
