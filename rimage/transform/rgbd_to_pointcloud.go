package transform

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/rimage"
	rutils "go.viam.com/depthcloud/utils"
)

// BuildOptions controls which pixels are sampled and which depths are kept.
type BuildOptions struct {
	// Stride is the step between sampled pixels along both axes.
	Stride int
	// ZMin and ZMax are exclusive bounds, in meters, on the depth of kept points.
	ZMin float64
	ZMax float64
}

// Validate returns an ErrInvalidRange error unless stride >= 1 and 0 <= ZMin < ZMax. A negative
// ZMin would keep zero depth samples, which all project to the origin.
func (o BuildOptions) Validate() error {
	if o.Stride < 1 {
		return rutils.NewInvalidRangeError("stride must be at least 1, got %d", o.Stride)
	}
	if math.IsNaN(o.ZMin) || math.IsNaN(o.ZMax) {
		return rutils.NewInvalidRangeError("depth bounds must be numbers, got (%v, %v)", o.ZMin, o.ZMax)
	}
	if o.ZMin < 0 {
		return rutils.NewInvalidRangeError("z_min must not be negative, got %v", o.ZMin)
	}
	if o.ZMin >= o.ZMax {
		return rutils.NewInvalidRangeError("z_min (%v) must be less than z_max (%v)", o.ZMin, o.ZMax)
	}
	return nil
}

// MaxPoints is the largest cloud a width x height frame can produce at this stride.
func (o BuildOptions) MaxPoints(width, height int) int {
	if o.Stride < 1 {
		return 0
	}
	return ((width + o.Stride - 1) / o.Stride) * ((height + o.Stride - 1) / o.Stride)
}

// RGBDToPointCloud builds the colored cloud of a depth map and its aligned color image.
// Points come out in raster order of the sampled pixels and only points with
// ZMin < z < ZMax are kept.
func RGBDToPointCloud(
	dm *rimage.DepthMap,
	img *rimage.Image,
	model *CameraModel,
	opts BuildOptions,
) (pointcloud.PointCloud, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	points, err := ProjectRGBD(dm, img, model, opts.Stride)
	if err != nil {
		return nil, err
	}
	return FilterDepthRange(points, opts.ZMin, opts.ZMax)
}

// ProjectRGBD back-projects every stride-th pixel of every stride-th row, starting at (0, 0),
// and attaches the color and coordinates of the source pixel. No depth filtering is done.
func ProjectRGBD(
	dm *rimage.DepthMap,
	img *rimage.Image,
	model *CameraModel,
	stride int,
) ([]pointcloud.PointAndData, error) {
	if dm == nil {
		return nil, errors.New("no depth channel. Cannot project to Pointcloud")
	}
	if img == nil {
		return nil, errors.New("no rgb channel. Cannot project to Pointcloud")
	}
	if model == nil {
		return nil, errors.New("no camera model. Cannot project to Pointcloud")
	}
	if dm.Width() != img.Width() || dm.Height() != img.Height() {
		return nil, rutils.NewShapeMismatchError(dm.Width(), dm.Height(), img.Width(), img.Height())
	}
	if stride < 1 {
		return nil, rutils.NewInvalidRangeError("stride must be at least 1, got %d", stride)
	}
	scale := model.DepthScale()
	if dm.DomainMax() != scale.DomainMax {
		return nil, rutils.NewInvalidRangeError("depth map samples range up to %d but the depth scale expects %d",
			dm.DomainMax(), scale.DomainMax)
	}
	intrinsics, err := model.IntrinsicsFor(dm.Width(), dm.Height())
	if err != nil {
		return nil, err
	}

	points := make([]pointcloud.PointAndData, 0, BuildOptions{Stride: stride}.MaxPoints(dm.Width(), dm.Height()))
	for v := 0; v < dm.Height(); v += stride {
		for u := 0; u < dm.Width(); u += stride {
			points = append(points, pointcloud.PointAndData{
				P: BackProject(u, v, dm.GetDepth(u, v), intrinsics, scale),
				D: pointcloud.NewProjectedData(img.GetXY(u, v), image.Point{u, v}),
			})
		}
	}
	return points, nil
}

// FilterDepthRange returns a cloud of the points with zMin < z < zMax, in their original order.
func FilterDepthRange(points []pointcloud.PointAndData, zMin, zMax float64) (pointcloud.PointCloud, error) {
	kept := 0
	for _, pd := range points {
		if pd.P.Z > zMin && pd.P.Z < zMax {
			kept++
		}
	}
	pc := pointcloud.NewWithPrealloc(kept)
	for _, pd := range points {
		if !(pd.P.Z > zMin && pd.P.Z < zMax) {
			continue
		}
		if err := pc.Set(pd.P, pd.D); err != nil {
			return nil, errors.Wrapf(err, "error setting point (%v, %v, %v) in point cloud", pd.P.X, pd.P.Y, pd.P.Z)
		}
	}
	return pc, nil
}
