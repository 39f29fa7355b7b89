// Package align implements the spatial alignment used at every decoder fusion
// point: bilinear resampling with half-pixel centres and corners NOT aligned.
//
// Resampling is done separably, first along height then along width, with
// index and weight tables computed on the host and applied on the tensor's
// own device. For a source axis of length `in` and destination length `out`:
//
//	scale = in / out
//	src   = max(scale*(dst+0.5) - 0.5, 0)
//	i0    = floor(src), i1 = min(i0+1, in-1)
//	l1    = src - i0,   l0 = 1 - l1
//	y     = l0*x[i0] + l1*x[i1]
package align

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

// Axis holds sampling indices and weights for one resampled axis.
type Axis struct {
	Index0  []int64
	Index1  []int64
	Lambda0 []float32
	Lambda1 []float32
}

// AxisWeights computes source indices and interpolation weights mapping
// an axis of length inSize to outSize.
func AxisWeights(inSize, outSize int64) Axis {
	ax := Axis{
		Index0:  make([]int64, outSize),
		Index1:  make([]int64, outSize),
		Lambda0: make([]float32, outSize),
		Lambda1: make([]float32, outSize),
	}

	scale := float32(inSize) / float32(outSize)
	for dst := int64(0); dst < outSize; dst++ {
		src := scale*(float32(dst)+0.5) - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int64(src)
		i1 := i0
		if i0 < inSize-1 {
			i1 = i0 + 1
		}
		l1 := src - float32(i0)

		ax.Index0[dst] = i0
		ax.Index1[dst] = i1
		ax.Lambda0[dst] = 1 - l1
		ax.Lambda1[dst] = l1
	}

	return ax
}

// Bilinear resamples x of shape [B C H W] to [B C outH outW].
// The input tensor is not modified or dropped.
func Bilinear(x *ts.Tensor, outH, outW int64) (*ts.Tensor, error) {
	size, err := x.Size()
	if err != nil {
		return nil, errors.Wrap(err, "bilinear: reading input size")
	}
	if len(size) != 4 {
		return nil, errors.Errorf("bilinear: expected input of shape [B C H W], got %v", size)
	}
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("bilinear: output size must be positive, got [%v %v]", outH, outW)
	}
	if size[2] <= 0 || size[3] <= 0 {
		return nil, errors.Errorf("bilinear: input has empty spatial size %v", size[2:])
	}

	rows, err := resampleAxis(x, 2, AxisWeights(size[2], outH))
	if err != nil {
		return nil, errors.Wrap(err, "bilinear: resampling height")
	}
	out, err := resampleAxis(rows, 3, AxisWeights(size[3], outW))
	rows.MustDrop()
	if err != nil {
		return nil, errors.Wrap(err, "bilinear: resampling width")
	}

	return out, nil
}

// resampleAxis interpolates x along spatial dimension dim (2 or 3).
func resampleAxis(x *ts.Tensor, dim int64, ax Axis) (*ts.Tensor, error) {
	device := x.MustDevice()
	dtype := x.DType()
	n := int64(len(ax.Index0))

	view := []int64{1, 1, n, 1}
	if dim == 3 {
		view = []int64{1, 1, 1, n}
	}

	idx0 := ts.MustOfSlice(ax.Index0).MustTo(device, true)
	defer idx0.MustDrop()
	idx1 := ts.MustOfSlice(ax.Index1).MustTo(device, true)
	defer idx1.MustDrop()
	l0 := ts.MustOfSlice(ax.Lambda0).MustView(view, true).MustTotype(dtype, true).MustTo(device, true)
	defer l0.MustDrop()
	l1 := ts.MustOfSlice(ax.Lambda1).MustView(view, true).MustTotype(dtype, true).MustTo(device, true)
	defer l1.MustDrop()

	x0, err := x.IndexSelect(dim, idx0, false)
	if err != nil {
		return nil, err
	}
	w0, err := x0.Mul(l0, true)
	if err != nil {
		return nil, err
	}
	defer w0.MustDrop()

	x1, err := x.IndexSelect(dim, idx1, false)
	if err != nil {
		return nil, err
	}
	w1, err := x1.Mul(l1, true)
	if err != nil {
		return nil, err
	}
	defer w1.MustDrop()

	return w0.Add(w1, false)
}

// Match reconciles a skip tensor against the upsampled tensor it is about to
// be fused with. If their spatial sizes differ, skip (never ref) is resampled
// to ref's height and width. Otherwise a shallow clone of skip is returned so
// callers may always drop the result.
func Match(skip, ref *ts.Tensor) (*ts.Tensor, error) {
	skipSize, err := skip.Size()
	if err != nil {
		return nil, errors.Wrap(err, "align: reading skip size")
	}
	refSize, err := ref.Size()
	if err != nil {
		return nil, errors.Wrap(err, "align: reading reference size")
	}
	if len(skipSize) != 4 || len(refSize) != 4 {
		return nil, errors.Errorf("align: expected [B C H W] tensors, got skip %v and reference %v", skipSize, refSize)
	}

	if reflect.DeepEqual(skipSize[2:], refSize[2:]) {
		return skip.MustShallowClone(), nil
	}

	return Bilinear(skip, refSize[2], refSize[3])
}
