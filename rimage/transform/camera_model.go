package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/depthcloud/rimage"
	rutils "go.viam.com/depthcloud/utils"
)

// DepthScale maps raw depth samples to meters: a sample equal to DomainMax is MaxDepthMeters away.
type DepthScale struct {
	DomainMax      rimage.Depth
	MaxDepthMeters float64
}

// DefaultDepthScale is the scale of 8-bit depth maps spanning eight meters.
var DefaultDepthScale = DepthScale{DomainMax: rimage.MaxDepth8, MaxDepthMeters: 8.0}

// CheckValid returns an error if the scale cannot convert samples.
func (s DepthScale) CheckValid() error {
	if s.DomainMax == 0 {
		return rutils.NewInvalidRangeError("depth domain maximum must be positive")
	}
	if !(s.MaxDepthMeters > 0) || math.IsInf(s.MaxDepthMeters, 0) {
		return rutils.NewInvalidRangeError("max depth must be a positive number of meters, got %v", s.MaxDepthMeters)
	}
	return nil
}

// Meters converts a raw sample to meters.
func (s DepthScale) Meters(d rimage.Depth) float64 {
	return float64(d) / float64(s.DomainMax) * s.MaxDepthMeters
}

// CameraModel supplies the intrinsics and depth scale used to back-project a frame. It is
// built once and shared read-only by every frame of a run.
type CameraModel struct {
	focalScale float64
	scale      DepthScale
	calibrated *PinholeCameraIntrinsics
}

// NewCameraModel validates its inputs and returns a CameraModel. calibrated may be nil, in
// which case intrinsics are derived from each frame's size using focalScale.
func NewCameraModel(focalScale float64, scale DepthScale, calibrated *PinholeCameraIntrinsics) (*CameraModel, error) {
	if focalScale <= 0 || math.IsNaN(focalScale) || math.IsInf(focalScale, 0) {
		return nil, rutils.NewInvalidRangeError("focal scale must be positive, got %v", focalScale)
	}
	if err := scale.CheckValid(); err != nil {
		return nil, err
	}
	model := &CameraModel{focalScale: focalScale, scale: scale}
	if calibrated != nil {
		if err := calibrated.CheckValid(); err != nil {
			return nil, errors.Wrap(err, "calibrated intrinsics")
		}
		cp := *calibrated
		model.calibrated = &cp
	}
	return model, nil
}

// FocalScale returns the focal length heuristic used for uncalibrated frames.
func (m *CameraModel) FocalScale() float64 {
	return m.focalScale
}

// DepthScale returns the sample to meters conversion.
func (m *CameraModel) DepthScale() DepthScale {
	return m.scale
}

// Calibrated reports whether the model carries calibrated intrinsics.
func (m *CameraModel) Calibrated() bool {
	return m.calibrated != nil
}

// IntrinsicsFor returns the intrinsics for a frame of the given size. Calibrated intrinsics
// must match the frame size exactly.
func (m *CameraModel) IntrinsicsFor(width, height int) (*PinholeCameraIntrinsics, error) {
	if m.calibrated == nil {
		return DeriveIntrinsics(width, height, m.focalScale)
	}
	if m.calibrated.Width != width || m.calibrated.Height != height {
		return nil, errors.Wrapf(rutils.ErrShapeMismatch, "frame is (%d,%d) but calibrated intrinsics are (%d,%d)",
			width, height, m.calibrated.Width, m.calibrated.Height)
	}
	cp := *m.calibrated
	return &cp, nil
}

// BackProject maps pixel (u, v) with the raw depth sample to a point in camera space, in meters.
func BackProject(u, v int, raw rimage.Depth, intrinsics *PinholeCameraIntrinsics, scale DepthScale) r3.Vector {
	x, y, z := intrinsics.PixelToPoint(float64(u), float64(v), scale.Meters(raw))
	return r3.Vector{X: x, Y: y, Z: z}
}
