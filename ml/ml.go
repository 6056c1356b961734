// Package ml resolves the output of an upstream depth estimator into depth maps.
package ml

import (
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"

	"go.viam.com/depthcloud/rimage"
)

// Tensors are the named outputs of a model.
type Tensors map[string]*tensor.Dense

// The output names depth estimators are known to use, in order of preference.
const (
	DepthTensorName     = "depth"
	PredDepthTensorName = "pred_depth"
	DepthPredTensorName = "depth_pred"
	OutputTensorName    = "output"
)

// DepthOutput is the output of a depth estimator, resolved once by name. Any field may be nil.
type DepthOutput struct {
	Depth     *tensor.Dense
	PredDepth *tensor.Dense
	DepthPred *tensor.Dense
	Output    *tensor.Dense
}

// NewDepthOutput picks the known depth tensors out of a model's outputs. When none of the known
// names are present and the model returned exactly one tensor, that tensor is used as Output.
func NewDepthOutput(outMap Tensors) (*DepthOutput, error) {
	out := &DepthOutput{
		Depth:     outMap[DepthTensorName],
		PredDepth: outMap[PredDepthTensorName],
		DepthPred: outMap[DepthPredTensorName],
		Output:    outMap[OutputTensorName],
	}
	if _, name := out.Tensor(); name != "" {
		return out, nil
	}
	if len(outMap) == 1 {
		for _, t := range outMap { // only 1 element in map, assume its depth
			if t != nil {
				out.Output = t
				return out, nil
			}
		}
	}
	return nil, errors.Errorf("no depth tensor among output tensors [%s]", strings.Join(tensorNames(outMap), ", "))
}

// Tensor returns the preferred non-nil depth tensor and its name, or an empty name if there is none.
func (o *DepthOutput) Tensor() (*tensor.Dense, string) {
	for _, c := range []struct {
		name string
		t    *tensor.Dense
	}{
		{DepthTensorName, o.Depth},
		{PredDepthTensorName, o.PredDepth},
		{DepthPredTensorName, o.DepthPred},
		{OutputTensorName, o.Output},
	} {
		if c.t != nil {
			return c.t, c.name
		}
	}
	return nil, ""
}

// DepthMap squeezes the depth tensor down to height x width and linearly rescales its values so
// the smallest maps to 0 and the largest to domainMax. A constant tensor maps to all zeros.
func (o *DepthOutput) DepthMap(domainMax rimage.Depth) (*rimage.DepthMap, error) {
	t, name := o.Tensor()
	if t == nil {
		return nil, errors.New("depth output has no tensor")
	}
	if domainMax == 0 {
		return nil, errors.New("depth domain maximum must be positive")
	}
	height, width, err := squeezedShape(t.Shape())
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	values, err := convertToFloat64Slice(t.Data())
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	if len(values) != width*height {
		return nil, errors.Errorf("tensor %q has %d values for shape %v", name, len(values), t.Shape())
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("tensor %q has non-finite value %v at index %d", name, v, i)
		}
	}

	lo, err := stats.Min(values)
	if err != nil {
		return nil, err
	}
	hi, err := stats.Max(values)
	if err != nil {
		return nil, err
	}
	samples := make([]rimage.Depth, len(values))
	if hi > lo {
		for i, v := range values {
			samples[i] = rimage.Depth((v - lo) / (hi - lo) * float64(domainMax))
		}
	}
	return rimage.NewDepthMapFromSamples(width, height, domainMax, samples)
}

// squeezedShape drops the unit dimensions of a shape and returns what is left as (height, width).
func squeezedShape(shape tensor.Shape) (int, int, error) {
	dims := make([]int, 0, 2)
	for _, d := range shape {
		if d != 1 {
			dims = append(dims, d)
		}
	}
	switch len(dims) {
	case 0:
		return 1, 1, nil
	case 1:
		return 1, dims[0], nil
	case 2:
		return dims[0], dims[1], nil
	default:
		return 0, 0, errors.Errorf("shape %v does not squeeze to two dimensions", shape)
	}
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

func convertToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	case []float32:
		return convertNumberSlice[float32, float64](v), nil
	case float32:
		return convertNumberSlice[float32, float64]([]float32{v}), nil
	case []int:
		return convertNumberSlice[int, float64](v), nil
	case []int32:
		return convertNumberSlice[int32, float64](v), nil
	case []int64:
		return convertNumberSlice[int64, float64](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float64](v), nil
	case []uint16:
		return convertNumberSlice[uint16, float64](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float64](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float64", slice)
	}
}

// tensorNames returns all the names of the tensors, sorted.
func tensorNames(t Tensors) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
