package encoder

import (
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/base"
)

// Down is a SequentialT module composed of maxpool and 2x conv.
type Down struct {
	MaxpoolConv *nn.SequentialT
}

// NewDown creates a new Down ModuleT layer.
func NewDown(p *nn.Path, cIn, cOut int64) *Down {
	down := nn.SeqT()
	down.AddFn(nn.NewFunc(func(x *ts.Tensor) *ts.Tensor {
		// Down sample to half size: [B C H W] => [B C H/2 W/2]
		return base.MaxPool2x2(x)
	}))
	down.Add(base.DoubleConv(p, cIn, cOut))

	return &Down{down}
}

// ForwardT implements ts.ModuleT interface.
func (l *Down) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return l.MaxpoolConv.ForwardT(x, train)
}

// SiameseEncoder is the feature extractor shared by both time-steps.
// The same instance (hence the same variables) is applied to the before
// and the after image.
type SiameseEncoder struct {
	Inc   *nn.SequentialT
	Down1 *Down
	Down2 *Down
	Down3 *Down

	channels []int64
}

// NewSiameseEncoder creates the 4-level extractor.
//
// Variables live under `inc`, `down1`, `down2` and `down3`.
func NewSiameseEncoder(p *nn.Path, cIn, b int64) *SiameseEncoder {
	return &SiameseEncoder{
		Inc:      newInc(p.Sub("inc"), cIn, b),
		Down1:    NewDown(p.Sub("down1"), b, b*2),
		Down2:    NewDown(p.Sub("down2"), b*2, b*4),
		Down3:    NewDown(p.Sub("down3"), b*4, b*8),
		channels: []int64{b, b * 2, b * 4, b * 8},
	}
}

func newInc(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	return base.DoubleConv(p, cIn, cOut)
}

// ForwardAll implements Encoder interface for SiameseEncoder.
// It returns 4 features at H, H/2, H/4 and H/8.
func (e *SiameseEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	x1 := e.Inc.ForwardT(x, train)    // [B  b H   W  ]
	x2 := e.Down1.ForwardT(x1, train) // [B 2b H/2 W/2]
	x3 := e.Down2.ForwardT(x2, train) // [B 4b H/4 W/4]
	x4 := e.Down3.ForwardT(x3, train) // [B 8b H/8 W/8]

	return []*ts.Tensor{x1, x2, x3, x4}
}

// Channels returns the channel count of each feature level.
func (e *SiameseEncoder) Channels() []int64 {
	return append([]int64(nil), e.channels...)
}
