package base

import (
	"math"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// ConvBnRelu creates a SequentialT composing of Conv2D, BatchNorm2D and a ReLU activation.
//
// Variables: `conv.weight`, `conv.bias`, `bn.weight`, `bn.bias`, `bn.running_mean`, `bn.running_var`.
func ConvBnRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p.Sub("conv"), cIn, cOut, ksize, padding, stride))
	seq.Add(nn.BatchNorm2D(p.Sub("bn"), cOut, nn.DefaultBatchNormConfig()))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// DoubleConv creates 2 consecutive 3x3 ConvBnRelu blocks with same-padding.
// Spatial size is preserved: [B cIn H W] => [B cOut H W]
func DoubleConv(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(ConvBnRelu(p.Sub("conv1"), cIn, cOut, 3, 1, 1))
	seq.Add(ConvBnRelu(p.Sub("conv2"), cOut, cOut, 3, 1, 1))

	return seq
}

// MaxPool2x2 halves spatial size with non-overlapping 2x2 max reduction.
// Odd sizes floor: [B C H W] => [B C H/2 W/2]
func MaxPool2x2(x *ts.Tensor) *ts.Tensor {
	// ksize = 2; stride=2; padding=0; dilation=1; ceil=false
	return x.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
}

// UpConv is a learned 2x upsampling layer: a transposed convolution with
// kernel 2 and stride 2. [B cIn H W] => [B cOut 2H 2W]
//
// Variables: `weight` [cIn cOut 2 2], `bias` [cOut].
type UpConv struct {
	Ws *ts.Tensor
	Bs *ts.Tensor
}

// NewUpConv creates new UpConv.
func NewUpConv(p *nn.Path, cIn, cOut int64) *UpConv {
	// NOTE. libtorch expects transposed weights as [in, out/groups, kH, kW].
	ws := p.MustNewVar("weight", []int64{cIn, cOut, 2, 2}, nn.NewKaimingUniformInit(nn.WithKaimingNegativeSlope(math.Sqrt(5))))

	// fan-in of a transposed conv weight is taken over dim 1.
	bound := 1.0 / math.Sqrt(float64(cOut*2*2))
	bs := p.MustNewVar("bias", []int64{cOut}, nn.NewUniformInit(-bound, bound))

	return &UpConv{Ws: ws, Bs: bs}
}

// Forward upsamples x, returning any libtorch error.
func (u *UpConv) Forward(x *ts.Tensor) (*ts.Tensor, error) {
	// stride=2; padding=0; outputPadding=0; groups=1; dilation=1
	return ts.ConvTranspose2d(x, u.Ws, u.Bs, []int64{2, 2}, []int64{0, 0}, []int64{0, 0}, 1, []int64{1, 1})
}
