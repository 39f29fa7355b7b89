package unet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/align"
	"github.com/sugarme/changedet/base"
	"github.com/sugarme/changedet/encoder"
)

// minSide is the smallest height/width that survives three 2x2 poolings.
const minSide = 8

// Config holds construction-time parameters of a SiameseUNet.
type Config struct {
	// InChannels is the band count of ONE time-step.
	InChannels int64
	// Base scales every stage width (x1, x2, x4, x8 encoder; x16 bottleneck).
	Base int64
	// Device the variables live on and the forward pass runs on.
	Device gotch.Device
	// ParallelBranches runs the before and after extractor branches concurrently.
	ParallelBranches bool
}

// DefaultConfig returns 6 input bands, base width 32 on CPU.
func DefaultConfig() Config {
	return Config{
		InChannels: 6,
		Base:       32,
		Device:     gotch.CPU,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InChannels <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input channels must be positive, got %v", c.InChannels)
	}
	if c.Base <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "base width must be positive, got %v", c.Base)
	}
	return nil
}

// SiameseUNet is a change detection model: a U-Net whose encoder is applied
// with shared weights to a before and an after image, and whose skip
// connections carry both branches concatenated.
type SiameseUNet struct {
	cfg Config
	vs  *nn.VarStore

	encoder *encoder.SiameseEncoder
	center  *CenterLayer
	decoder *UNetDecoder
	head    *nn.SequentialT
}

// New creates a randomly initialised SiameseUNet owning its own VarStore.
//
// Variables: `encoder.*`, `bottleneck.*`, `decoder.up{1,2,3}.*`, `head.*`.
func New(cfg Config) (*SiameseUNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vs := nn.NewVarStore(cfg.Device)
	root := vs.Root()
	b := cfg.Base

	return &SiameseUNet{
		cfg:     cfg,
		vs:      vs,
		encoder: encoder.NewSiameseEncoder(root.Sub("encoder"), cfg.InChannels, b),
		center:  NewCenterLayer(root.Sub("bottleneck"), b*8*2, b*16),
		decoder: NewUNetDecoder(root.Sub("decoder"), b),
		head:    base.NewSegmentationHead(root.Sub("head"), b*2, 1),
	}, nil
}

// Config returns the configuration the model was built with.
func (m *SiameseUNet) Config() Config { return m.cfg }

// VarStore returns the store holding every variable of the model.
func (m *SiameseUNet) VarStore() *nn.VarStore { return m.vs }

// Drop frees every variable of the model. The model must not be used after.
func (m *SiameseUNet) Drop() {
	m.vs.Destroy()
}

// Forward runs inference: eval-mode batch norm, no gradient tracking.
// before, after: [B C H W]. Returns raw change scores [B 1 H W].
func (m *SiameseUNet) Forward(before, after *ts.Tensor) (out *ts.Tensor, err error) {
	ts.NoGrad(func() {
		out, err = m.forward(before, after, false, nil)
	})
	return out, err
}

// ForwardT runs the model with an explicit train flag.
func (m *SiameseUNet) ForwardT(before, after *ts.Tensor, train bool) (*ts.Tensor, error) {
	return m.forward(before, after, train, nil)
}

// Trace runs inference and records the shape of every intermediate tensor.
func (m *SiameseUNet) Trace(before, after *ts.Tensor) (out *ts.Tensor, tr *Trace, err error) {
	tr = &Trace{}
	ts.NoGrad(func() {
		out, err = m.forward(before, after, false, tr)
	})
	if err != nil {
		return nil, nil, err
	}
	return out, tr, nil
}

// EncodePair runs only the shared extractor on both images (inference mode).
func (m *SiameseUNet) EncodePair(before, after *ts.Tensor) (b, a []*ts.Tensor, err error) {
	if _, _, err := m.checkInputs(before, after); err != nil {
		return nil, nil, err
	}

	ts.NoGrad(func() {
		bx := m.prepare(before)
		defer bx.MustDrop()
		ax := m.prepare(after)
		defer ax.MustDrop()

		b, a, err = encoder.ForwardPair(m.encoder, bx, ax, false, m.cfg.ParallelBranches)
	})

	return b, a, err
}

func (m *SiameseUNet) forward(before, after *ts.Tensor, train bool, tr *Trace) (out *ts.Tensor, err error) {
	h, w, err := m.checkInputs(before, after)
	if err != nil {
		return nil, err
	}

	bx := m.prepare(before)
	defer bx.MustDrop()
	ax := m.prepare(after)
	defer ax.MustDrop()

	bf, af, err := encoder.ForwardPair(m.encoder, bx, ax, train, m.cfg.ParallelBranches)
	if err != nil {
		return nil, err
	}
	for i := range bf {
		tr.record(fmt.Sprintf("before.e%d", i+1), bf[i])
		tr.record(fmt.Sprintf("after.e%d", i+1), af[i])
	}

	// Skip pairs: [B 2b H W], [B 4b H/2 W/2], [B 8b H/4 W/4], [B 16b H/8 W/8]
	skips := make([]*ts.Tensor, 0, len(bf))
	defer func() { encoder.Drop(skips) }()
	for i := range bf {
		skip, err := ts.Cat([]*ts.Tensor{bf[i], af[i]}, 1)
		if err != nil {
			encoder.Drop(bf)
			encoder.Drop(af)
			return nil, errors.Wrapf(err, "concatenating skip %d", i+1)
		}
		skips = append(skips, skip)
		tr.record(fmt.Sprintf("skip%d", i+1), skip)
	}
	encoder.Drop(bf)
	encoder.Drop(af)

	tr.record("bottleneck.in", skips[3])
	bt := m.center.ForwardT(skips[3], train) // [B 16b H/8 W/8]
	tr.record("bottleneck.out", bt)

	z, err := m.decoder.forward(bt, []*ts.Tensor{skips[2], skips[1], skips[0]}, train, tr)
	bt.MustDrop()
	if err != nil {
		return nil, err
	}
	tr.record("decoder.out", z)

	// Inputs not divisible by 8 come back smaller than they went in.
	full, err := restore(z, h, w)
	z.MustDrop()
	if err != nil {
		return nil, err
	}
	tr.record("prehead", full) // [B 2b H W]

	out = m.head.ForwardT(full, train) // [B 1 H W]
	full.MustDrop()
	tr.record("output", out)

	return out, nil
}

// restore resamples x to [h w] if its spatial size drifted.
func restore(x *ts.Tensor, h, w int64) (*ts.Tensor, error) {
	size := x.MustSize()
	if size[2] == h && size[3] == w {
		return x.MustShallowClone(), nil
	}
	return align.Bilinear(x, h, w)
}

// checkInputs validates a before/after pair before any computation and
// returns the spatial size.
func (m *SiameseUNet) checkInputs(before, after *ts.Tensor) (h, w int64, err error) {
	if before == nil || after == nil {
		return 0, 0, &ShapeError{Dim: "rank", Reason: "input tensor is nil"}
	}
	bs, err := before.Size()
	if err != nil {
		return 0, 0, errors.Wrap(err, "reading before size")
	}
	as, err := after.Size()
	if err != nil {
		return 0, 0, errors.Wrap(err, "reading after size")
	}

	if len(bs) != len(as) {
		return 0, 0, &ShapeError{Dim: "rank", Before: int64(len(bs)), After: int64(len(as))}
	}
	if len(bs) != 4 {
		return 0, 0, &ShapeError{Dim: "rank", Reason: fmt.Sprintf("must be 4 [B C H W], got %v", len(bs))}
	}

	for i, dim := range []string{"batch", "channel", "height", "width"} {
		if bs[i] != as[i] {
			return 0, 0, &ShapeError{Dim: dim, Before: bs[i], After: as[i]}
		}
	}

	if bs[1] != m.cfg.InChannels {
		return 0, 0, &ChannelError{Want: m.cfg.InChannels, Got: bs[1]}
	}
	if bs[0] < 1 {
		return 0, 0, &ShapeError{Dim: "batch", Reason: "must be positive"}
	}
	if bs[2] < minSide {
		return 0, 0, &ShapeError{Dim: "height", Reason: fmt.Sprintf("%v is smaller than %v", bs[2], minSide)}
	}
	if bs[3] < minSide {
		return 0, 0, &ShapeError{Dim: "width", Reason: fmt.Sprintf("%v is smaller than %v", bs[3], minSide)}
	}

	return bs[2], bs[3], nil
}

// prepare moves x to the model device as float32. The caller's tensor is
// left untouched.
func (m *SiameseUNet) prepare(x *ts.Tensor) *ts.Tensor {
	y := x.MustTo(m.cfg.Device, false)
	if y.DType() != gotch.Float {
		return y.MustTotype(gotch.Float, true)
	}
	return y
}
