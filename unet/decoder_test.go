package unet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/unet"
)

func TestUpForward(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	up := unet.NewUp(vs.Root(), 8, 8, 4)

	x := ts.MustRand([]int64{1, 8, 4, 5}, gotch.Float, gotch.CPU)
	defer x.MustDrop()
	skip := ts.MustRand([]int64{1, 8, 9, 11}, gotch.Float, gotch.CPU)
	defer skip.MustDrop()

	var (
		out *ts.Tensor
		err error
	)
	ts.NoGrad(func() {
		out, err = up.UpForward(x, skip, false)
	})
	require.NoError(t, err)
	defer out.MustDrop()
	assert.Equal(t, []int64{1, 4, 8, 10}, out.MustSize())
}

func TestUpForwardErrors(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	up := unet.NewUp(vs.Root(), 8, 8, 4)

	skip := ts.MustRand([]int64{1, 8, 8, 8}, gotch.Float, gotch.CPU)
	defer skip.MustDrop()

	// Wrong channel count for the upsampling weight.
	badChannels := ts.MustRand([]int64{1, 6, 4, 4}, gotch.Float, gotch.CPU)
	defer badChannels.MustDrop()
	// Batch differs from the skip, so the concatenation fails.
	badBatch := ts.MustRand([]int64{2, 8, 4, 4}, gotch.Float, gotch.CPU)
	defer badBatch.MustDrop()

	for _, x := range []*ts.Tensor{badChannels, badBatch} {
		var err error
		ts.NoGrad(func() {
			_, err = up.UpForward(x, skip, false)
		})
		assert.Error(t, err, "input %v", x.MustSize())
	}
}
