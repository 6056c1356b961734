package rimage

import (
	// register gif.
	_ "image/gif"
	// register jpeg.
	_ "image/jpeg"
	// register png.
	_ "image/png"

	"github.com/disintegration/imaging"
	// register ppm.
	_ "github.com/lmittmann/ppm"
	// register qoi.
	_ "github.com/xfmoulet/qoi"
	// register bmp.
	_ "golang.org/x/image/bmp"
	// register tiff.
	_ "golang.org/x/image/tiff"
	// register webp.
	_ "golang.org/x/image/webp"

	"go.viam.com/depthcloud/utils"
)

// ReadDepthMapFromFile decodes a single-channel depth image. 8-bit images yield a map with
// domain MaxDepth8, 16-bit grayscale PNGs a map with domain MaxDepth16; color images are
// reduced to gray.
func ReadDepthMapFromFile(fn string) (*DepthMap, error) {
	img, err := imaging.Open(fn)
	if err != nil {
		return nil, utils.NewIOError(err, fn)
	}
	return NewDepthMapFromGray(img), nil
}

// ReadImageFromFile decodes a color image, applying any EXIF orientation it carries.
func ReadImageFromFile(fn string) (*Image, error) {
	img, err := imaging.Open(fn, imaging.AutoOrientation(true))
	if err != nil {
		return nil, utils.NewIOError(err, fn)
	}
	return NewImageFromStdImage(img), nil
}
