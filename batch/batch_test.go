package batch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/ml"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/utils"
)

const (
	testWidth  = 32
	testHeight = 24
)

func writeDepth(t *testing.T, fn string, width, height int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)
}

func writeColor(t *testing.T, fn string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 8), uint8(y * 8), 100, 255})
		}
	}
	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)
}

func writePair(t *testing.T, dir, stem string) {
	t.Helper()
	writeDepth(t, filepath.Join(dir, stem+config.DefaultDepthSuffix), testWidth, testHeight, 128)
	writeColor(t, filepath.Join(dir, stem+config.DefaultColorSuffix), testWidth, testHeight)
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return o
}

func TestRunMissingPair(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "clouds")
	writePair(t, in, "frame_000")
	writeDepth(t, filepath.Join(in, "frame_001_depth.png"), testWidth, testHeight, 128)
	writePair(t, in, "frame_002")

	logger, logs := logging.NewObservedTestLogger(t)
	o, err := NewOrchestrator(config.Default(), logger)
	test.That(t, err, test.ShouldBeNil)

	meta, err := o.Run(context.Background(), in, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 2)
	test.That(t, meta.Results, test.ShouldHaveLength, 2)
	test.That(t, meta.Skipped, test.ShouldHaveLength, 1)
	test.That(t, meta.Failed, test.ShouldHaveLength, 0)
	test.That(t, meta.Skipped[0].Frame, test.ShouldEqual, "frame_001")
	test.That(t, meta.SourceDirectory, test.ShouldEqual, in)
	test.That(t, meta.OutputDirectory, test.ShouldEqual, out)

	// 32x24 at stride 4 is 8x6 samples, all about 4m away
	for i, stem := range []string{"frame_000", "frame_002"} {
		r := meta.Results[i]
		test.That(t, r.Frame, test.ShouldEqual, stem)
		test.That(t, r.PLYFile, test.ShouldEqual, filepath.Join(out, stem+".ply"))
		test.That(t, r.NumPoints, test.ShouldEqual, 48)

		vertices, err := pointcloud.ReadPLYFile(r.PLYFile)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vertices, test.ShouldHaveLength, 48)
	}
	test.That(t, meta.TotalPoints(), test.ShouldEqual, 96)

	_, err = os.Stat(filepath.Join(out, "frame_001.ply"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	written, err := ReadMetadataFile(filepath.Join(out, config.DefaultMetadataFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, written.TotalFrames, test.ShouldEqual, 2)
	test.That(t, written.Results, test.ShouldResemble, meta.Results)
	test.That(t, written.Skipped, test.ShouldResemble, meta.Skipped)

	done := logs.FilterMessage("batch complete").All()
	test.That(t, done, test.ShouldHaveLength, 1)
	test.That(t, done[0].ContextMap()["run"], test.ShouldNotBeEmpty)
	test.That(t, logs.FilterMessage("skipping frame").Len(), test.ShouldEqual, 1)
}

func TestRunIsolatesFailures(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writePair(t, in, "a")
	// color image of the wrong size
	writeDepth(t, filepath.Join(in, "b_depth.png"), testWidth, testHeight, 128)
	writeColor(t, filepath.Join(in, "b_original.jpg"), testWidth/2, testHeight)
	// undecodable depth map
	test.That(t, os.WriteFile(filepath.Join(in, "c_depth.png"), []byte("not a png"), 0o600), test.ShouldBeNil)
	writeColor(t, filepath.Join(in, "c_original.jpg"), testWidth, testHeight)
	writePair(t, in, "d")

	meta, err := newTestOrchestrator(t, config.Default()).Run(context.Background(), in, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 2)
	test.That(t, meta.Results[0].Frame, test.ShouldEqual, "a")
	test.That(t, meta.Results[1].Frame, test.ShouldEqual, "d")

	test.That(t, meta.Failed, test.ShouldHaveLength, 2)
	test.That(t, meta.Failed[0].Frame, test.ShouldEqual, "b")
	test.That(t, meta.Failed[0].Kind, test.ShouldEqual, "ShapeMismatch")
	test.That(t, meta.Failed[0].Error, test.ShouldContainSubstring, "depth map is (32,24) but color image is (16,24)")
	test.That(t, meta.Failed[1].Frame, test.ShouldEqual, "c")
	test.That(t, meta.Failed[1].Kind, test.ShouldEqual, "IOError")

	for _, stem := range []string{"b", "c"} {
		_, err := os.Stat(filepath.Join(out, stem+".ply"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	}
}

func TestRunWorkerCountIndependence(t *testing.T) {
	in := t.TempDir()
	for _, stem := range []string{"f0", "f1", "f2", "f3", "f4", "f5"} {
		writePair(t, in, stem)
	}
	writeDepth(t, filepath.Join(in, "f9_depth.png"), testWidth, testHeight, 0)

	run := func(workers int) (*Metadata, string) {
		cfg := config.Default()
		cfg.Workers = workers
		out := t.TempDir()
		meta, err := newTestOrchestrator(t, cfg).Run(context.Background(), in, out)
		test.That(t, err, test.ShouldBeNil)
		return meta, out
	}
	seq, seqOut := run(1)
	par, parOut := run(4)

	test.That(t, par.TotalFrames, test.ShouldEqual, seq.TotalFrames)
	test.That(t, par.Skipped, test.ShouldResemble, seq.Skipped)
	test.That(t, par.Failed, test.ShouldResemble, seq.Failed)
	test.That(t, par.Results, test.ShouldHaveLength, len(seq.Results))
	for i := range seq.Results {
		test.That(t, par.Results[i].Frame, test.ShouldEqual, seq.Results[i].Frame)
		test.That(t, par.Results[i].NumPoints, test.ShouldEqual, seq.Results[i].NumPoints)

		a, err := os.ReadFile(filepath.Join(seqOut, seq.Results[i].Frame+".ply"))
		test.That(t, err, test.ShouldBeNil)
		b, err := os.ReadFile(filepath.Join(parOut, par.Results[i].Frame+".ply"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bytes.Equal(a, b), test.ShouldBeTrue)
	}
}

func TestRunZeroDepthFrame(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeDepth(t, filepath.Join(in, "empty_depth.png"), testWidth, testHeight, 0)
	writeColor(t, filepath.Join(in, "empty_original.jpg"), testWidth, testHeight)

	meta, err := newTestOrchestrator(t, config.Default()).Run(context.Background(), in, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 1)
	test.That(t, meta.Results[0].NumPoints, test.ShouldEqual, 0)

	data, err := os.ReadFile(filepath.Join(out, "empty.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "element vertex 0\n")
	test.That(t, bytes.HasSuffix(data, []byte("end_header\n")), test.ShouldBeTrue)
}

func TestRunFatalErrors(t *testing.T) {
	in := t.TempDir()
	writePair(t, in, "a")
	o := newTestOrchestrator(t, config.Default())

	// output path is a file
	blocker := filepath.Join(t.TempDir(), "file")
	test.That(t, os.WriteFile(blocker, nil, 0o600), test.ShouldBeNil)
	_, err := o.Run(context.Background(), in, blocker)
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	_, err = o.Run(context.Background(), filepath.Join(in, "missing"), t.TempDir())
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	_, err = o.Run(context.Background(), filepath.Join(in, "a_depth.png"), t.TempDir())
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	cfg := config.Default()
	cfg.ZMin = 10
	_, err = NewOrchestrator(cfg, golog.NewTestLogger(t))
	test.That(t, errors.Is(err, utils.ErrInvalidRange), test.ShouldBeTrue)
}

func TestRunCancelled(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writePair(t, in, "a")
	writePair(t, in, "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	meta, err := newTestOrchestrator(t, config.Default()).Run(ctx, in, out)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 0)

	_, err = os.Stat(filepath.Join(out, config.DefaultMetadataFile))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestRunMaxFrames(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	for _, stem := range []string{"a", "b", "c"} {
		writePair(t, in, stem)
	}
	cfg := config.Default()
	cfg.MaxFrames = 2
	meta, err := newTestOrchestrator(t, cfg).Run(context.Background(), in, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 2)
	_, err = os.Stat(filepath.Join(out, "c.ply"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestRunFrames(t *testing.T) {
	out := t.TempDir()
	depth := rimage.NewEmptyDepthMap(8, 8, rimage.MaxDepth8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(x, y, 100)
		}
	}
	img := rimage.NewImage(8, 8)

	cfg := config.Default()
	cfg.Stride = 2
	o := newTestOrchestrator(t, cfg)

	frames := []*Frame{
		NewFrame("good", depth, img),
		NewFrame("no_color", depth, nil),
		NewFrame("mismatch", depth, rimage.NewImage(4, 8)),
	}
	meta, err := o.RunFrames(context.Background(), "estimator", frames, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.SourceDirectory, test.ShouldEqual, "estimator")
	test.That(t, meta.TotalFrames, test.ShouldEqual, 1)
	test.That(t, meta.Results[0].NumPoints, test.ShouldEqual, 16)
	test.That(t, meta.Failed, test.ShouldHaveLength, 2)
	test.That(t, meta.Failed[0].Frame, test.ShouldEqual, "mismatch")
	test.That(t, meta.Failed[0].Kind, test.ShouldEqual, "ShapeMismatch")
	test.That(t, meta.Failed[1].Frame, test.ShouldEqual, "no_color")

	test.That(t, frames[0].State(), test.ShouldEqual, FrameRecorded)
	test.That(t, frames[1].State(), test.ShouldEqual, FrameFailed)
	test.That(t, frames[2].State(), test.ShouldEqual, FrameFailed)
	// in-memory images belong to the caller
	test.That(t, frames[0].Depth, test.ShouldEqual, depth)

	// frames cannot be run twice
	_, err = o.RunFrames(context.Background(), "estimator", frames[:1], out)
	test.That(t, err, test.ShouldNotBeNil)

	for _, bad := range [][]*Frame{
		{NewFrame("x", depth, img), NewFrame("x", depth, img)},
		{NewFrame("../x", depth, img)},
		{NewFrame("", depth, img)},
		{nil},
	} {
		_, err := o.RunFrames(context.Background(), "estimator", bad, out)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestRunEstimatedFrames(t *testing.T) {
	cfg := config.Default()
	cfg.Stride = 1
	o := newTestOrchestrator(t, cfg)

	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	outputs := ml.Tensors{
		"predicted_depth": tensor.New(tensor.WithShape(1, 1, 4, 4), tensor.WithBacking(data)),
	}
	f, err := o.NewEstimatedFrame("estimate_000", outputs, rimage.NewImage(4, 4))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Depth.Width(), test.ShouldEqual, 4)
	test.That(t, f.Depth.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(0))
	test.That(t, f.Depth.GetDepth(3, 3), test.ShouldEqual, rimage.MaxDepth8)

	meta, err := o.RunFrames(context.Background(), "estimator", []*Frame{f}, t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	// the nearest estimate is at 0m and the four farthest are beyond 6m
	test.That(t, meta.Results[0].NumPoints, test.ShouldEqual, 11)

	outputs["other"] = outputs["predicted_depth"]
	_, err = o.NewEstimatedFrame("estimate_001", outputs, rimage.NewImage(4, 4))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no depth tensor")

	_, err = o.NewEstimatedFrame("../escape", ml.Tensors{"depth": outputs["other"]}, rimage.NewImage(4, 4))
	test.That(t, err, test.ShouldNotBeNil)
}

func writeDepth16(t *testing.T, fn string, width, height int, value uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{value})
		}
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)
}

func TestRun16BitDepth(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeDepth16(t, filepath.Join(in, "half_depth.png"), testWidth, testHeight, 32768)
	writeColor(t, filepath.Join(in, "half_original.jpg"), testWidth, testHeight)
	writeDepth16(t, filepath.Join(in, "near_depth.png"), testWidth, testHeight, 128)
	writeColor(t, filepath.Join(in, "near_original.jpg"), testWidth, testHeight)

	logger, logs := logging.NewObservedTestLogger(t)
	o, err := NewOrchestrator(config.Default(), logger)
	test.That(t, err, test.ShouldBeNil)
	meta, err := o.Run(context.Background(), in, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.Failed, test.ShouldHaveLength, 0)
	test.That(t, meta.TotalFrames, test.ShouldEqual, 2)

	// half of the 16-bit domain is 127 of 255, about 4m away
	test.That(t, meta.Results[0].Frame, test.ShouldEqual, "half")
	test.That(t, meta.Results[0].NumPoints, test.ShouldEqual, 48)
	vertices, err := pointcloud.ReadPLYFile(meta.Results[0].PLYFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vertices[0].P.Z, test.ShouldAlmostEqual, 127.0/255.0*8.0, 0.001)

	// 128 of 65535 is about 1.6cm, closer than z_min
	test.That(t, meta.Results[1].Frame, test.ShouldEqual, "near")
	test.That(t, meta.Results[1].NumPoints, test.ShouldEqual, 0)

	test.That(t, logs.FilterMessage("rescaling depth map").Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("loaded frame").Len(), test.ShouldEqual, 2)
}

func TestRun16BitDepthFullDomain(t *testing.T) {
	in := t.TempDir()
	writeDepth16(t, filepath.Join(in, "deep_depth.png"), testWidth, testHeight, 32768)
	writeColor(t, filepath.Join(in, "deep_original.jpg"), testWidth, testHeight)

	cfg := config.Default()
	cfg.DepthDomainMax = int(rimage.MaxDepth16)
	meta, err := newTestOrchestrator(t, cfg).Run(context.Background(), in, t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.Results[0].NumPoints, test.ShouldEqual, 48)

	vertices, err := pointcloud.ReadPLYFile(meta.Results[0].PLYFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vertices[0].P.Z, test.ShouldAlmostEqual, 32768.0/65535.0*8.0, 0.001)
}
