package pointcloud

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color. There
	// is no alpha channel right now and as such the data can be assumed to be
	// premultiplied.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.NRGBA

	// HasPixel returns whether the point remembers the image pixel it was projected from.
	HasPixel() bool

	// Pixel returns the (u, v) image coordinate the point was projected from.
	Pixel() image.Point
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasPixel bool
	pixel    image.Point
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewProjectedData returns a colored point that remembers the pixel it was projected from.
func NewProjectedData(c color.NRGBA, pixel image.Point) Data {
	return &basicData{c: c, hasColor: true, pixel: pixel, hasPixel: true}
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.NRGBA {
	return bp.c
}

func (bp *basicData) HasPixel() bool {
	return bp.hasPixel
}

func (bp *basicData) Pixel() image.Point {
	return bp.pixel
}

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}
