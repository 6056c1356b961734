package batch

import (
	"github.com/pkg/errors"

	"go.viam.com/depthcloud/ml"
	"go.viam.com/depthcloud/rimage"
)

// NewEstimatedFrame builds an in-memory frame from the raw outputs of a depth estimator and the
// color image it ran on. The depth tensor is rescaled to the configured depth domain, so the
// farthest estimate lands at max_depth_meters.
func (o *Orchestrator) NewEstimatedFrame(name string, outputs ml.Tensors, color *rimage.Image) (*Frame, error) {
	if err := validFrameName(name); err != nil {
		return nil, err
	}
	out, err := ml.NewDepthOutput(outputs)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s", name)
	}
	dm, err := out.DepthMap(o.model.DepthScale().DomainMax)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s", name)
	}
	return NewFrame(name, dm, color), nil
}
