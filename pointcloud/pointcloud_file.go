package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	rutils "go.viam.com/depthcloud/utils"
)

// DefaultPLYPrecision is the number of digits written after the decimal point of each coordinate.
const DefaultPLYPrecision = 3

// PLYOptions controls how a cloud is serialized.
type PLYOptions struct {
	// Precision is the number of digits after the decimal point of each coordinate.
	// Zero means DefaultPLYPrecision.
	Precision int
}

func (o PLYOptions) precision() int {
	if o.Precision <= 0 {
		return DefaultPLYPrecision
	}
	return o.Precision
}

var plyHeaderLines = []string{
	"ply",
	"format ascii 1.0",
	"element vertex %d",
	"property float x",
	"property float y",
	"property float z",
	"property uchar red",
	"property uchar green",
	"property uchar blue",
	"end_header",
}

// ToPLY writes the cloud as an ASCII PLY with colored vertices. The output only depends
// on the points and their order, so the same cloud always yields the same bytes. Every
// point must be colored and finite, otherwise an ErrEncoding error is returned.
func ToPLY(cloud PointCloud, out io.Writer, opts PLYOptions) error {
	prec := opts.precision()

	for _, line := range plyHeaderLines {
		if strings.Contains(line, "%d") {
			line = fmt.Sprintf(line, cloud.Size())
		}
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			return err
		}
	}

	var lastErr error
	buf := make([]byte, 0, 64)
	idx := 0
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		if err := checkFinite(p); err != nil {
			lastErr = errors.Wrapf(rutils.ErrEncoding, "point %d: %v", idx, err)
			return false
		}
		if d == nil || !d.HasColor() {
			lastErr = errors.Wrapf(rutils.ErrEncoding, "point %d at %v has no color", idx, p)
			return false
		}
		r, g, b := d.RGB255()

		buf = buf[:0]
		buf = strconv.AppendFloat(buf, p.X, 'f', prec, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Y, 'f', prec, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Z, 'f', prec, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, uint64(r), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, uint64(g), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, uint64(b), 10)
		buf = append(buf, '\n')
		if _, err := out.Write(buf); err != nil {
			lastErr = err
			return false
		}
		idx++
		return true
	})
	return lastErr
}

// WriteToPLYFile writes the cloud to fn. The file is written next to fn under a temporary
// name and renamed into place, so fn is either the complete cloud or was never touched.
func WriteToPLYFile(cloud PointCloud, fn string, opts PLYOptions) error {
	return rutils.WriteFileAtomic(fn, 0o644, func(w io.Writer) error {
		err := ToPLY(cloud, w, opts)
		if err != nil && !errors.Is(err, rutils.ErrEncoding) {
			return rutils.NewIOError(err, fn)
		}
		return err
	})
}

// ReadPLYFile returns the vertices of the given ASCII PLY file in file order.
func ReadPLYFile(fn string) (_ []PointAndData, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, rutils.NewIOError(err, fn)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPLY(f)
}

// ReadPLY parses an ASCII PLY with the vertex layout ToPLY writes and returns one entry per
// vertex line. It fails unless the number of vertex lines is exactly the count declared in
// the header. Vertices are not deduplicated: rounding may make two written points equal.
func ReadPLY(inRaw io.Reader) ([]PointAndData, error) {
	in := bufio.NewScanner(inRaw)
	lineNum := 0
	next := func() (string, bool) {
		for in.Scan() {
			lineNum++
			line := strings.TrimSpace(in.Text())
			if line == "" || strings.HasPrefix(line, "comment") {
				continue
			}
			return line, true
		}
		return "", false
	}

	var numVertices int
	for i, want := range plyHeaderLines {
		line, ok := next()
		if !ok {
			return nil, errors.Wrapf(rutils.ErrEncoding, "header ended early, expected %q", want)
		}
		if i == 2 {
			countStr, found := strings.CutPrefix(line, "element vertex ")
			if !found {
				return nil, errors.Wrapf(rutils.ErrEncoding, "line %d: expected vertex element but got %q", lineNum, line)
			}
			n, err := strconv.Atoi(countStr)
			if err != nil || n < 0 {
				return nil, errors.Wrapf(rutils.ErrEncoding, "line %d: invalid vertex count %q", lineNum, countStr)
			}
			numVertices = n
			continue
		}
		if line != want {
			return nil, errors.Wrapf(rutils.ErrEncoding, "line %d: expected %q but got %q", lineNum, want, line)
		}
	}

	vertices := make([]PointAndData, 0, numVertices)
	for i := 0; i < numVertices; i++ {
		line, ok := next()
		if !ok {
			return nil, errors.Wrapf(rutils.ErrEncoding, "header declares %d vertices but body has %d", numVertices, i)
		}
		p, d, err := parsePLYVertex(line)
		if err != nil {
			return nil, errors.Wrapf(rutils.ErrEncoding, "line %d: %v", lineNum, err)
		}
		vertices = append(vertices, PointAndData{P: p, D: d})
	}
	if extra, ok := next(); ok {
		return nil, errors.Wrapf(rutils.ErrEncoding, "line %d: unexpected data after %d vertices: %q", lineNum, numVertices, extra)
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	return vertices, nil
}

func parsePLYVertex(line string) (r3.Vector, Data, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 6 {
		return r3.Vector{}, nil, errors.Errorf("expected 6 fields but got %d", len(tokens))
	}
	var coords [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return r3.Vector{}, nil, errors.Errorf("invalid coordinate %q", tokens[i])
		}
		coords[i] = v
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(tokens[3+i], 10, 8)
		if err != nil {
			return r3.Vector{}, nil, errors.Errorf("invalid color channel %q", tokens[3+i])
		}
		rgb[i] = uint8(v)
	}
	return NewVector(coords[0], coords[1], coords[2]), NewColoredData(color.NRGBA{rgb[0], rgb[1], rgb[2], 255}), nil
}

// WritePLYSummary writes the vertex count and bounds of a list of vertices, one per line.
func WritePLYSummary(vertices []PointAndData, out io.Writer) error {
	_, err := fmt.Fprintf(out, "vertices: %d\n", len(vertices))
	if err != nil || len(vertices) == 0 {
		return err
	}
	meta := NewMetaData()
	for _, v := range vertices {
		meta.Merge(v.P, v.D)
	}
	_, err = fmt.Fprintf(out, "x: [%.3f, %.3f]\ny: [%.3f, %.3f]\nz: [%.3f, %.3f]\n",
		meta.MinX, meta.MaxX, meta.MinY, meta.MaxY, meta.MinZ, meta.MaxZ)
	return err
}
