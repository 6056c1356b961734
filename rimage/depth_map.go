// Package rimage holds the rasters fed to point cloud reconstruction: depth maps as
// produced by monocular depth estimators and the color images they were estimated from.
package rimage

import (
	"image"
	"image/color"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/depthcloud/utils"
)

// Depth is a single raw depth sample. What a sample means in meters depends on the
// domain of its map and the scale the map is projected with.
type Depth uint16

const (
	// MaxDepth8 is the domain maximum of depth maps decoded from 8-bit images.
	MaxDepth8 = Depth(255)
	// MaxDepth16 is the domain maximum of depth maps decoded from 16-bit images.
	MaxDepth16 = Depth(65535)
)

// DepthMap is a row-major grid of depth samples. Every sample is within [0, DomainMax].
type DepthMap struct {
	width     int
	height    int
	domainMax Depth

	data []Depth
}

// NewEmptyDepthMap returns a zeroed depth map whose samples may range up to domainMax.
func NewEmptyDepthMap(width, height int, domainMax Depth) *DepthMap {
	return &DepthMap{
		width:     width,
		height:    height,
		domainMax: domainMax,
		data:      make([]Depth, width*height),
	}
}

// NewDepthMapFromSamples wraps row-major samples. It fails if the sample count does not
// match the dimensions or if any sample exceeds domainMax.
func NewDepthMapFromSamples(width, height int, domainMax Depth, samples []Depth) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(utils.ErrInvalidGeometry, "bad width or height for depth map %d %d", width, height)
	}
	if len(samples) != width*height {
		return nil, errors.Wrapf(utils.ErrShapeMismatch, "got %d samples for a %dx%d depth map", len(samples), width, height)
	}
	for i, d := range samples {
		if d > domainMax {
			return nil, utils.NewInvalidRangeError("sample %d at (%d,%d) exceeds domain max %d",
				d, i%width, i/width, domainMax)
		}
	}
	data := make([]Depth, len(samples))
	copy(data, samples)
	return &DepthMap{width: width, height: height, domainMax: domainMax, data: data}, nil
}

// NewDepthMapFromGray converts a single-channel image into a depth map. 16-bit sources
// keep their full domain; everything else is reduced to 8-bit gray.
func NewDepthMapFromGray(img image.Image) *DepthMap {
	bounds := img.Bounds()
	switch src := img.(type) {
	case *image.Gray16:
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy(), MaxDepth16)
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm
	case *image.Gray:
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy(), MaxDepth8)
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm
	default:
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy(), MaxDepth8)
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				g, _ := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
				dm.Set(x, y, Depth(g.Y))
			}
		}
		return dm
	}
}

// Width returns the horizontal size of the DepthMap.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size of the DepthMap.
func (dm *DepthMap) Height() int {
	return dm.height
}

// DomainMax is the largest value a sample of this map may hold.
func (dm *DepthMap) DomainMax() Depth {
	return dm.domainMax
}

// Bounds returns the rectangle dimensions of the image.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set sets the depth at (x, y), clamped to the domain of the map.
func (dm *DepthMap) Set(x, y int, val Depth) {
	if val > dm.domainMax {
		val = dm.domainMax
	}
	dm.data[dm.kxy(x, y)] = val
}

// Rescale returns a copy of the map with every sample mapped proportionally from the domain of
// the map into [0, domainMax], truncating toward zero.
func (dm *DepthMap) Rescale(domainMax Depth) *DepthMap {
	out := NewEmptyDepthMap(dm.width, dm.height, domainMax)
	if dm.domainMax == 0 {
		return out
	}
	for i, d := range dm.data {
		out.data[i] = Depth(uint64(d) * uint64(domainMax) / uint64(dm.domainMax))
	}
	return out
}

// DepthStats summarizes the samples of a depth map.
type DepthStats struct {
	Min, Max, Mean, Median float64
}

// Stats returns summary statistics over every sample of the map.
func (dm *DepthMap) Stats() (DepthStats, error) {
	data := make(stats.Float64Data, len(dm.data))
	for i, d := range dm.data {
		data[i] = float64(d)
	}
	var s DepthStats
	var err error
	if s.Min, err = data.Min(); err != nil {
		return DepthStats{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return DepthStats{}, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return DepthStats{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return DepthStats{}, err
	}
	return s, nil
}
