package unet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/align"
	"github.com/sugarme/changedet/base"
)

// CenterLayer is the fusion bottleneck. It compresses the concatenated
// deepest feature pair without resizing: [B 16b H/8 W/8] => [B 16b H/8 W/8]
type CenterLayer struct {
	Conv1 *nn.SequentialT
	Conv2 *nn.SequentialT
}

// ForwardT implements ts.ModuleT interface for CenterLayer struct.
func (c *CenterLayer) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := c.Conv1.ForwardT(x, train)
	c2 := c.Conv2.ForwardT(c1, train)
	c1.MustDrop()

	return c2
}

// NewCenterLayer creates new CenterLayer.
func NewCenterLayer(p *nn.Path, cIn, cOut int64) *CenterLayer {
	conv1 := base.ConvBnRelu(p.Sub("conv1"), cIn, cOut, 3, 1, 1)
	conv2 := base.ConvBnRelu(p.Sub("conv2"), cOut, cOut, 3, 1, 1)

	return &CenterLayer{conv1, conv2}
}

// Up is a decoder stage composed of a learned 2x upsampling and a double conv.
type Up struct {
	Up         *base.UpConv
	DoubleConv *nn.SequentialT
}

// NewUp creates new Up layer.
//
// cIn: channels of the tensor to upsample.
// cSkip: channels of the skip pair (before and after concatenated).
// cOut: channels after upsampling and after the double conv.
func NewUp(p *nn.Path, cIn, cSkip, cOut int64) *Up {
	return &Up{
		Up:         base.NewUpConv(p.Sub("up"), cIn, cOut),
		DoubleConv: base.DoubleConv(p.Sub("conv"), cOut+cSkip, cOut),
	}
}

// UpForward upsamples x, aligns skip to the upsampled size and forwards
// the concatenation [x, skip] through the double conv.
// x should be in shape [B cIn h w], skip in shape [B cSkip ~2h ~2w].
func (l *Up) UpForward(x, skip *ts.Tensor, train bool) (*ts.Tensor, error) {
	return l.forward(x, skip, train, nil, "")
}

func (l *Up) forward(x, skip *ts.Tensor, train bool, tr *Trace, name string) (*ts.Tensor, error) {
	xUp, err := l.Up.Forward(x) // [B cOut 2h 2w]
	if err != nil {
		return nil, errors.Wrapf(err, "%v: upsampling", name)
	}
	tr.record(name+".upsampled", xUp)
	tr.record(name+".skip", skip)

	aligned, err := align.Match(skip, xUp)
	if err != nil {
		xUp.MustDrop()
		return nil, errors.Wrapf(err, "%v: aligning skip", name)
	}
	tr.record(name+".aligned", aligned)

	// concatenating
	x, err = ts.Cat([]*ts.Tensor{xUp, aligned}, 1)
	xUp.MustDrop()
	aligned.MustDrop()
	if err != nil {
		return nil, errors.Wrapf(err, "%v: concatenating skip", name)
	}
	tr.record(name+".concat", x)

	// Forward through double conv
	out := l.DoubleConv.ForwardT(x, train)
	x.MustDrop()
	tr.record(name+".out", out)

	return out, nil
}

// UNetDecoder walks its Up stages in order, one skip pair per stage.
type UNetDecoder struct {
	stages []*Up
}

// NewUNetDecoder creates the 3-stage decoder for base width b:
//
//	up1: 16b -> 8b, skip 8b (H/8 -> H/4)
//	up2:  8b -> 4b, skip 4b (H/4 -> H/2)
//	up3:  4b -> 2b, skip 2b (H/2 -> H)
func NewUNetDecoder(p *nn.Path, b int64) *UNetDecoder {
	return &UNetDecoder{
		stages: []*Up{
			NewUp(p.Sub("up1"), b*16, b*8, b*8),
			NewUp(p.Sub("up2"), b*8, b*4, b*4),
			NewUp(p.Sub("up3"), b*4, b*2, b*2),
		},
	}
}

// ForwardFeatures decodes x through every stage. skips must be ordered from
// the deepest resolution to the finest.
func (d *UNetDecoder) ForwardFeatures(x *ts.Tensor, skips []*ts.Tensor, train bool) (*ts.Tensor, error) {
	return d.forward(x, skips, train, nil)
}

func (d *UNetDecoder) forward(x *ts.Tensor, skips []*ts.Tensor, train bool, tr *Trace) (*ts.Tensor, error) {
	if len(skips) != len(d.stages) {
		return nil, errors.Errorf("decoder: expected %v skip tensors, got %v", len(d.stages), len(skips))
	}

	z := x.MustShallowClone()
	for i, stage := range d.stages {
		next, err := stage.forward(z, skips[i], train, tr, fmt.Sprintf("up%d", i+1))
		z.MustDrop()
		if err != nil {
			return nil, err
		}
		z = next
	}

	return z, nil
}
