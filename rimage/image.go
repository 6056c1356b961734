package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Image is an RGB raster aligned with a depth map. It is stored as non-premultiplied
// RGBA so colors can be read back exactly as they were decoded.
type Image struct {
	nrgba *image.NRGBA
}

// NewImage returns a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{nrgba: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// NewImageFromStdImage copies any standard image into an Image anchored at the origin.
func NewImageFromStdImage(img image.Image) *Image {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return &Image{nrgba: nrgba}
	}
	return &Image{nrgba: imaging.Clone(img)}
}

// Width returns the horizontal size of the image.
func (i *Image) Width() int {
	return i.nrgba.Bounds().Dx()
}

// Height returns the vertical size of the image.
func (i *Image) Height() int {
	return i.nrgba.Bounds().Dy()
}

// Bounds returns the rectangle dimensions of the image.
func (i *Image) Bounds() image.Rectangle {
	return i.nrgba.Bounds()
}

// GetXY returns the color at (x, y).
func (i *Image) GetXY(x, y int) color.NRGBA {
	return i.nrgba.NRGBAAt(x, y)
}

// SetXY sets the color at (x, y).
func (i *Image) SetXY(x, y int, c color.NRGBA) {
	i.nrgba.SetNRGBA(x, y, c)
}
