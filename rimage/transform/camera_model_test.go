package transform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcloud/rimage"
	rutils "go.viam.com/depthcloud/utils"
)

func TestDeriveIntrinsics(t *testing.T) {
	intrinsics, err := DeriveIntrinsics(640, 480, DefaultFocalScale)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, intrinsics.Height, test.ShouldEqual, 480)
	test.That(t, intrinsics.Fx, test.ShouldAlmostEqual, 336.0)
	test.That(t, intrinsics.Fy, test.ShouldAlmostEqual, 336.0)
	test.That(t, intrinsics.Ppx, test.ShouldEqual, 320.0)
	test.That(t, intrinsics.Ppy, test.ShouldEqual, 240.0)
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)

	// odd sizes use the integer center
	intrinsics, err = DeriveIntrinsics(641, 481, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Fx, test.ShouldEqual, 481.0)
	test.That(t, intrinsics.Ppx, test.ShouldEqual, 320.0)
	test.That(t, intrinsics.Ppy, test.ShouldEqual, 240.0)

	_, err = DeriveIntrinsics(0, 480, DefaultFocalScale)
	test.That(t, errors.Is(err, rutils.ErrInvalidGeometry), test.ShouldBeTrue)
	_, err = DeriveIntrinsics(640, -1, DefaultFocalScale)
	test.That(t, errors.Is(err, rutils.ErrInvalidGeometry), test.ShouldBeTrue)
	_, err = DeriveIntrinsics(640, 480, 0)
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilIntrinsics.CheckValid(), rutils.ErrInvalidGeometry), test.ShouldBeTrue)

	good := PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 5, Fy: 5, Ppx: 5, Ppy: 5}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	bad := good
	bad.Width = 0
	test.That(t, errors.Is(bad.CheckValid(), rutils.ErrInvalidGeometry), test.ShouldBeTrue)

	bad = good
	bad.Fx = 0
	err := bad.CheckValid()
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fx")

	bad = good
	bad.Fy = -3
	test.That(t, errors.Is(bad.CheckValid(), rutils.ErrInvalidRange), test.ShouldBeTrue)

	bad = good
	bad.Ppy = -1
	test.That(t, errors.Is(bad.CheckValid(), rutils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestPixelToPointRoundTrip(t *testing.T) {
	intrinsics, err := DeriveIntrinsics(640, 480, DefaultFocalScale)
	test.That(t, err, test.ShouldBeNil)

	x, y, z := intrinsics.PixelToPoint(100, 50, 2)
	test.That(t, z, test.ShouldEqual, 2.0)
	test.That(t, x, test.ShouldAlmostEqual, (100.0-320.0)*2/336.0)
	test.That(t, y, test.ShouldAlmostEqual, (50.0-240.0)*2/336.0)

	x, y, z = intrinsics.PixelToPoint(320, 240, 5)
	test.That(t, x, test.ShouldEqual, 0.0)
	test.That(t, y, test.ShouldEqual, 0.0)
	test.That(t, z, test.ShouldEqual, 5.0)

	var nilIntrinsics *PinholeCameraIntrinsics
	x, y, z = nilIntrinsics.PixelToPoint(1, 1, 1)
	test.That(t, x, test.ShouldEqual, 0.0)
	test.That(t, y, test.ShouldEqual, 0.0)
	test.That(t, z, test.ShouldEqual, 0.0)
}

func TestNewPinholeCameraIntrinsicsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	want := PinholeCameraIntrinsics{Width: 1280, Height: 720, Fx: 900.5, Fy: 901.25, Ppx: 648.3, Ppy: 362.7}
	data, err := json.Marshal(want)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"width_px":1280`)

	fn := filepath.Join(dir, "intrinsics.json")
	test.That(t, os.WriteFile(fn, data, 0o600), test.ShouldBeNil)
	got, err := NewPinholeCameraIntrinsicsFromJSONFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *got, test.ShouldResemble, want)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, errors.Is(err, rutils.ErrIO), test.ShouldBeTrue)

	garbage := filepath.Join(dir, "garbage.json")
	test.That(t, os.WriteFile(garbage, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(garbage)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "error parsing JSON string")

	invalid := filepath.Join(dir, "invalid.json")
	test.That(t, os.WriteFile(invalid, []byte(`{"width_px": 10, "height_px": 10, "fx": 0, "fy": 1}`), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(invalid)
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestDepthScale(t *testing.T) {
	test.That(t, DefaultDepthScale.CheckValid(), test.ShouldBeNil)
	test.That(t, DefaultDepthScale.Meters(0), test.ShouldEqual, 0.0)
	test.That(t, DefaultDepthScale.Meters(255), test.ShouldAlmostEqual, 8.0)
	test.That(t, DefaultDepthScale.Meters(128), test.ShouldAlmostEqual, 4.016, 0.001)

	scale16 := DepthScale{DomainMax: rimage.MaxDepth16, MaxDepthMeters: 10}
	test.That(t, scale16.Meters(rimage.MaxDepth16), test.ShouldAlmostEqual, 10.0)

	test.That(t, errors.Is(DepthScale{DomainMax: 0, MaxDepthMeters: 8}.CheckValid(), rutils.ErrInvalidRange), test.ShouldBeTrue)
	test.That(t, errors.Is(DepthScale{DomainMax: 255, MaxDepthMeters: -1}.CheckValid(), rutils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestCameraModel(t *testing.T) {
	model, err := NewCameraModel(DefaultFocalScale, DefaultDepthScale, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Calibrated(), test.ShouldBeFalse)
	test.That(t, model.FocalScale(), test.ShouldEqual, DefaultFocalScale)
	test.That(t, model.DepthScale(), test.ShouldResemble, DefaultDepthScale)

	intrinsics, err := model.IntrinsicsFor(640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Fx, test.ShouldAlmostEqual, 336.0)

	_, err = NewCameraModel(-1, DefaultDepthScale, nil)
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
	_, err = NewCameraModel(DefaultFocalScale, DepthScale{}, nil)
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
	_, err = NewCameraModel(DefaultFocalScale, DefaultDepthScale, &PinholeCameraIntrinsics{Width: 4, Height: 4})
	test.That(t, errors.Is(err, rutils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestCameraModelCalibrated(t *testing.T) {
	calibrated := &PinholeCameraIntrinsics{Width: 8, Height: 6, Fx: 10, Fy: 12, Ppx: 3.5, Ppy: 2.5}
	model, err := NewCameraModel(DefaultFocalScale, DefaultDepthScale, calibrated)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Calibrated(), test.ShouldBeTrue)

	// the model keeps its own copy
	calibrated.Fx = 99
	intrinsics, err := model.IntrinsicsFor(8, 6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Fx, test.ShouldEqual, 10.0)
	test.That(t, intrinsics.Ppx, test.ShouldEqual, 3.5)

	_, err = model.IntrinsicsFor(6, 8)
	test.That(t, errors.Is(err, rutils.ErrShapeMismatch), test.ShouldBeTrue)
}

func TestBackProject(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 2, Fy: 4, Ppx: 5, Ppy: 5}
	scale := DepthScale{DomainMax: 100, MaxDepthMeters: 4}

	p := BackProject(5, 5, 50, intrinsics, scale)
	test.That(t, p.X, test.ShouldEqual, 0.0)
	test.That(t, p.Y, test.ShouldEqual, 0.0)
	test.That(t, p.Z, test.ShouldAlmostEqual, 2.0)

	p = BackProject(9, 1, 100, intrinsics, scale)
	test.That(t, p.Z, test.ShouldAlmostEqual, 4.0)
	test.That(t, p.X, test.ShouldAlmostEqual, (9.0-5.0)*4/2)
	test.That(t, p.Y, test.ShouldAlmostEqual, (1.0-5.0)*4/4)
}
