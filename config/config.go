// Package config defines the configuration of a point cloud conversion run.
package config

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/transform"
	"go.viam.com/depthcloud/utils"
)

// Defaults used by Default and for fields a config file leaves out.
const (
	DefaultStride          = 4
	DefaultZMin            = 0.2
	DefaultZMax            = 6.0
	DefaultMaxDepthMeters  = 8.0
	DefaultDepthDomainMax  = int(rimage.MaxDepth8)
	DefaultPrecision       = 3
	DefaultDepthSuffix     = "_depth.png"
	DefaultColorSuffix     = "_original.jpg"
	DefaultMetadataFile    = "pointcloud_metadata.json"
	DefaultWatchDebounceMs = 500
	maxPrecision           = 12
)

// Config describes how frames are discovered, projected and written.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Sampling and filtering.
	Stride int     `json:"stride" jsonschema:"minimum=1"`
	ZMin   float64 `json:"z_min" jsonschema:"minimum=0"`
	ZMax   float64 `json:"z_max"`

	// Camera model.
	MaxDepthMeters float64 `json:"max_depth_meters"`
	DepthDomainMax int     `json:"depth_domain_max" jsonschema:"minimum=1,maximum=65535"`
	FocalScale     float64 `json:"focal_scale"`
	IntrinsicsFile string  `json:"intrinsics_file,omitempty"`

	// Output.
	Precision    int    `json:"precision" jsonschema:"minimum=1,maximum=12"`
	MetadataFile string `json:"metadata_file"`

	// Discovery.
	DepthSuffix   string   `json:"depth_suffix"`
	ColorSuffixes []string `json:"color_suffixes"`
	MaxFrames     int      `json:"max_frames,omitempty" jsonschema:"minimum=0"`

	// Execution.
	Workers         int    `json:"workers,omitempty" jsonschema:"minimum=0"`
	WatchDebounceMs int    `json:"watch_debounce_ms,omitempty" jsonschema:"minimum=0"`
	Debug           bool   `json:"debug,omitempty"`
	LogFile         string `json:"log_file,omitempty"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Stride:          DefaultStride,
		ZMin:            DefaultZMin,
		ZMax:            DefaultZMax,
		MaxDepthMeters:  DefaultMaxDepthMeters,
		DepthDomainMax:  DefaultDepthDomainMax,
		FocalScale:      transform.DefaultFocalScale,
		Precision:       DefaultPrecision,
		MetadataFile:    DefaultMetadataFile,
		DepthSuffix:     DefaultDepthSuffix,
		ColorSuffixes:   []string{DefaultColorSuffix},
		WatchDebounceMs: DefaultWatchDebounceMs,
	}
}

// Validate returns an error wrapping utils.ErrInvalidRange for the first invalid field.
func (c *Config) Validate() error {
	if c.Stride < 1 {
		return utils.NewInvalidRangeError("stride must be at least 1, got %d", c.Stride)
	}
	if !isFinite(c.ZMin) || !isFinite(c.ZMax) || c.ZMin < 0 || c.ZMin >= c.ZMax {
		return utils.NewInvalidRangeError("need 0 <= z_min < z_max, got z_min %v and z_max %v", c.ZMin, c.ZMax)
	}
	if !isFinite(c.MaxDepthMeters) || c.MaxDepthMeters <= 0 {
		return utils.NewInvalidRangeError("max_depth_meters must be positive, got %v", c.MaxDepthMeters)
	}
	if c.DepthDomainMax < 1 || c.DepthDomainMax > int(rimage.MaxDepth16) {
		return utils.NewInvalidRangeError("depth_domain_max must be in [1, %d], got %d", rimage.MaxDepth16, c.DepthDomainMax)
	}
	if !isFinite(c.FocalScale) || c.FocalScale <= 0 {
		return utils.NewInvalidRangeError("focal_scale must be positive, got %v", c.FocalScale)
	}
	if c.Precision < 1 || c.Precision > maxPrecision {
		return utils.NewInvalidRangeError("precision must be in [1, %d], got %d", maxPrecision, c.Precision)
	}
	if c.MetadataFile == "" || c.MetadataFile != filepath.Base(c.MetadataFile) {
		return utils.NewInvalidRangeError("metadata_file must be a plain file name, got %q", c.MetadataFile)
	}
	if c.DepthSuffix == "" {
		return utils.NewInvalidRangeError("depth_suffix must not be empty")
	}
	if len(c.ColorSuffixes) == 0 {
		return utils.NewInvalidRangeError("color_suffixes must not be empty")
	}
	for _, s := range c.ColorSuffixes {
		if s == "" {
			return utils.NewInvalidRangeError("color_suffixes must not contain an empty suffix")
		}
		if strings.HasSuffix(s, c.DepthSuffix) || strings.HasSuffix(c.DepthSuffix, s) {
			return utils.NewInvalidRangeError("color suffix %q overlaps depth suffix %q", s, c.DepthSuffix)
		}
	}
	if c.MaxFrames < 0 {
		return utils.NewInvalidRangeError("max_frames must not be negative, got %d", c.MaxFrames)
	}
	if c.Workers < 0 {
		return utils.NewInvalidRangeError("workers must not be negative, got %d", c.Workers)
	}
	if c.WatchDebounceMs < 0 {
		return utils.NewInvalidRangeError("watch_debounce_ms must not be negative, got %d", c.WatchDebounceMs)
	}
	return nil
}

// BuildOptions returns the sampling and filtering options for the point cloud builder.
func (c *Config) BuildOptions() transform.BuildOptions {
	return transform.BuildOptions{Stride: c.Stride, ZMin: c.ZMin, ZMax: c.ZMax}
}

// DepthScale returns the sample to meters conversion.
func (c *Config) DepthScale() transform.DepthScale {
	return transform.DepthScale{DomainMax: rimage.Depth(c.DepthDomainMax), MaxDepthMeters: c.MaxDepthMeters}
}

// CameraModel builds the camera model, loading calibrated intrinsics if a file is configured.
func (c *Config) CameraModel() (*transform.CameraModel, error) {
	var calibrated *transform.PinholeCameraIntrinsics
	if c.IntrinsicsFile != "" {
		var err error
		calibrated, err = transform.NewPinholeCameraIntrinsicsFromJSONFile(c.IntrinsicsFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load camera intrinsics")
		}
	}
	return transform.NewCameraModel(c.FocalScale, c.DepthScale(), calibrated)
}

// WorkerCount returns the configured number of workers, or the parallelism of the machine.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return utils.ParallelFactor
}

// Copy returns a deep copy of the config.
func (c *Config) Copy() *Config {
	cp := *c
	cp.ColorSuffixes = append([]string(nil), c.ColorSuffixes...)
	return &cp
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
