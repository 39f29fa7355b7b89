package encoder_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/encoder"
)

func shapes(xs []*ts.Tensor) [][]int64 {
	var out [][]int64
	for _, x := range xs {
		out = append(out, x.MustSize())
	}
	return out
}

func TestSiameseEncoderShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc := encoder.NewSiameseEncoder(vs.Root(), 6, 4)
	assert.Equal(t, []int64{4, 8, 16, 32}, enc.Channels())

	x := ts.MustRand([]int64{2, 6, 64, 64}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	var features []*ts.Tensor
	ts.NoGrad(func() {
		features = enc.ForwardAll(x, false)
	})
	defer encoder.Drop(features)

	want := [][]int64{
		{2, 4, 64, 64},
		{2, 8, 32, 32},
		{2, 16, 16, 16},
		{2, 32, 8, 8},
	}
	assert.Equal(t, want, shapes(features))
}

func TestSiameseEncoderOddSizeFloors(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc := encoder.NewSiameseEncoder(vs.Root(), 3, 2)

	x := ts.MustRand([]int64{1, 3, 256, 250}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	var features []*ts.Tensor
	ts.NoGrad(func() {
		features = enc.ForwardAll(x, false)
	})
	defer encoder.Drop(features)

	want := [][]int64{
		{1, 2, 256, 250},
		{1, 4, 128, 125},
		{1, 8, 64, 62},
		{1, 16, 32, 31},
	}
	assert.Equal(t, want, shapes(features))
}

func TestSiameseEncoderVariables(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	encoder.NewSiameseEncoder(vs.Root().Sub("encoder"), 6, 4)

	vars := vs.Variables()
	for _, name := range []string{
		"encoder.inc.conv1.conv.weight",
		"encoder.inc.conv2.bn.running_var",
		"encoder.down1.conv1.conv.weight",
		"encoder.down3.conv2.bn.bias",
	} {
		_, ok := vars[name]
		assert.True(t, ok, "missing variable %q", name)
	}

	w := vars["encoder.down3.conv1.conv.weight"]
	assert.Equal(t, []int64{32, 16, 3, 3}, w.MustSize())

	// Widths come from the base argument at every level.
	for name, shape := range map[string][]int64{
		"encoder.inc.conv1.conv.weight":   {4, 6, 3, 3},
		"encoder.down1.conv1.conv.weight": {8, 4, 3, 3},
		"encoder.down2.conv2.conv.weight": {16, 16, 3, 3},
	} {
		v := vars[name]
		assert.Equal(t, shape, v.MustSize(), name)
	}
}

func TestForwardPairSharesWeights(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc := encoder.NewSiameseEncoder(vs.Root(), 6, 4)

	x := ts.MustRand([]int64{1, 6, 32, 32}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	for _, parallel := range []bool{false, true} {
		var (
			b, a []*ts.Tensor
			err  error
		)
		ts.NoGrad(func() {
			b, a, err = encoder.ForwardPair(enc, x, x, false, parallel)
		})
		require.NoError(t, err)
		require.Len(t, b, 4)
		require.Len(t, a, 4)

		for i := range b {
			assert.Equal(t, b[i].MustSize(), a[i].MustSize())
			assert.Equal(t, b[i].Float64Values(), a[i].Float64Values(), "level %d parallel=%v", i+1, parallel)
		}
		encoder.Drop(b)
		encoder.Drop(a)
	}
}

func TestForwardPairTrainRunningStats(t *testing.T) {
	before := ts.MustRand([]int64{2, 6, 32, 32}, gotch.Float, gotch.CPU)
	defer before.MustDrop()
	after := ts.MustRandn([]int64{2, 6, 32, 32}, gotch.Float, gotch.CPU)
	defer after.MustDrop()

	seqVS := nn.NewVarStore(gotch.CPU)
	seqEnc := encoder.NewSiameseEncoder(seqVS.Root(), 6, 4)
	parVS := nn.NewVarStore(gotch.CPU)
	parEnc := encoder.NewSiameseEncoder(parVS.Root(), 6, 4)
	require.NoError(t, parVS.Copy(seqVS))

	for _, tc := range []struct {
		enc      *encoder.SiameseEncoder
		parallel bool
	}{{seqEnc, false}, {parEnc, true}} {
		b, a, err := encoder.ForwardPair(tc.enc, before, after, true, tc.parallel)
		require.NoError(t, err)
		encoder.Drop(b)
		encoder.Drop(a)
	}

	seqVars, parVars := seqVS.Variables(), parVS.Variables()
	var checked int
	for name, v := range seqVars {
		if !strings.HasSuffix(name, "running_mean") && !strings.HasSuffix(name, "running_var") {
			continue
		}
		p := parVars[name]
		assert.InDeltaSlice(t, v.Float64Values(), p.Float64Values(), 1e-6, name)
		checked++
	}
	assert.Equal(t, 16, checked)
}
