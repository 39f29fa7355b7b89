package base

import "github.com/sugarme/gotch/nn"

// NewSegmentationHead creates new SegmentatationHead (nn.SequentialT).
// It is a single 1x1 convolution producing raw scores (no activation).
func NewSegmentationHead(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p, cIn, cOut, 1, 0, 1))

	return seq
}
