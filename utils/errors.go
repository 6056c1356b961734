package utils

import (
	"github.com/pkg/errors"
)

// Error kinds shared by every stage of the depth to point cloud pipeline. Stages wrap one
// of these with context so callers can match them with errors.Is.
var (
	// ErrShapeMismatch is returned when a depth map and its color image differ in size.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidRange is returned for an unusable numeric range or parameter.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidGeometry is returned when image dimensions cannot describe a camera.
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrIO is returned when the filesystem cannot be read or written.
	ErrIO = errors.New("io error")
	// ErrEncoding is returned when a point cannot be serialized.
	ErrEncoding = errors.New("encoding error")
	// ErrMissingPair is returned when a frame lacks its depth or color counterpart.
	ErrMissingPair = errors.New("missing pair")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrShapeMismatch, "ShapeMismatch"},
	{ErrInvalidRange, "InvalidRange"},
	{ErrInvalidGeometry, "InvalidGeometry"},
	{ErrIO, "IOError"},
	{ErrEncoding, "EncodingError"},
	{ErrMissingPair, "MissingPair"},
}

// ErrorKind returns the name of the kind err belongs to, or "Unknown".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// NewShapeMismatchError is used when two rasters that must be aligned are not.
func NewShapeMismatchError(w1, h1, w2, h2 int) error {
	return errors.Wrapf(ErrShapeMismatch, "depth map is (%d,%d) but color image is (%d,%d)", w1, h1, w2, h2)
}

// NewInvalidRangeError is used when a parameter falls outside of what it may be.
func NewInvalidRangeError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidRange, format, args...)
}

// NewIOError marks err as a filesystem failure on path.
func NewIOError(err error, path string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrIO, "%s: %v", path, err)
}
