package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	rutils "go.viam.com/depthcloud/utils"
)

// DefaultFocalScale is the fraction of the shorter image side used as the focal length
// when no calibration is available.
const DefaultFocalScale = 0.7

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// DeriveIntrinsics approximates intrinsics for an uncalibrated camera from the image size alone.
// The focal length is focalScale times the shorter side and the principal point sits at the
// integer center of the image.
func DeriveIntrinsics(width, height int, focalScale float64) (*PinholeCameraIntrinsics, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(rutils.ErrInvalidGeometry, "invalid image size (%d, %d)", width, height)
	}
	if focalScale <= 0 || math.IsNaN(focalScale) || math.IsInf(focalScale, 0) {
		return nil, rutils.NewInvalidRangeError("focal scale must be positive, got %v", focalScale)
	}
	focal := float64(min(width, height)) * focalScale
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     focal,
		Fy:     focal,
		Ppx:    float64(width / 2),
		Ppy:    float64(height / 2),
	}, nil
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(rutils.ErrInvalidGeometry, "intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Wrapf(rutils.ErrInvalidGeometry, "invalid size (%#v, %#v)", params.Width, params.Height)
	}
	if !(params.Fx > 0) || math.IsInf(params.Fx, 0) {
		return rutils.NewInvalidRangeError("invalid focal length Fx = %#v", params.Fx)
	}
	if !(params.Fy > 0) || math.IsInf(params.Fy, 0) {
		return rutils.NewInvalidRangeError("invalid focal length Fy = %#v", params.Fy)
	}
	if params.Ppx < 0 {
		return rutils.NewInvalidRangeError("invalid principal X point Ppx = %#v", params.Ppx)
	}
	if params.Ppy < 0 {
		return rutils.NewInvalidRangeError("invalid principal Y point Ppy = %#v", params.Ppy)
	}
	return nil
}

func (params *PinholeCameraIntrinsics) String() string {
	return fmt.Sprintf("%dx%d fx=%.3f fy=%.3f ppx=%.1f ppy=%.1f",
		params.Width, params.Height, params.Fx, params.Fy, params.Ppx, params.Ppy)
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, rutils.NewIOError(err, jsonPath)
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)

	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, rutils.NewIOError(err, jsonPath)
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "intrinsics in %s", jsonPath)
	}
	return intrinsics, nil
}

// PixelToPoint transforms a pixel with depth to a 3D point.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}
