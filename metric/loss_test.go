package metric_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/metric"
)

var (
	pslice = []int64{1, 0, 0, 1, 0, 0, 1, 0, 0}
	tslice = []int64{1, 0, 0, 1, 1, 0, 1, 0, 0}
)

func masks() (pred, target *ts.Tensor) {
	pred = ts.MustOfSlice(pslice).MustView([]int64{1, 3, 3}, true)
	target = ts.MustOfSlice(tslice).MustView([]int64{1, 3, 3}, true)
	return pred, target
}

func TestJaccardIndex(t *testing.T) {
	pred, target := masks()

	// class 1: 3/4, class 0: 5/6
	iou := metric.JaccardIndex(pred, target, 2)
	assert.InDelta(t, (0.75+5.0/6.0)/2, iou, 1e-9)
}

func TestIoU(t *testing.T) {
	pred, target := masks()

	iou := metric.IoU(pred, target, metric.DefaultThreshold)
	assert.InDelta(t, 0.75, iou, 1e-9)
}

func TestIoUEmptyMasks(t *testing.T) {
	pred := ts.MustZeros([]int64{1, 1, 4, 4}, gotch.Float, gotch.CPU)
	target := ts.MustZeros([]int64{1, 1, 4, 4}, gotch.Float, gotch.CPU)

	assert.Equal(t, 1.0, metric.IoU(pred, target, 0.5))
	assert.Equal(t, 1.0, metric.DiceCoeff(pred, target))
}

func TestIoUThreshold(t *testing.T) {
	prob := ts.MustOfSlice([]float32{0.2, 0.6, 0.8, 0.4}).MustView([]int64{1, 1, 2, 2}, true)
	target := ts.MustOfSlice([]float32{0, 1, 1, 1}).MustView([]int64{1, 1, 2, 2}, true)

	assert.InDelta(t, 2.0/3.0, metric.IoU(prob, target, 0.5), 1e-9)
	assert.InDelta(t, 1.0/3.0, metric.IoU(prob, target, 0.7), 1e-9)
	assert.InDelta(t, 1.0, metric.IoU(prob, target, 0.3), 1e-9)
}

func TestDiceCoeff(t *testing.T) {
	pred, target := masks()

	dice := metric.DiceCoeff(pred, target)
	assert.InDelta(t, 6.0/7.0, dice, 1e-9) // 0.8571
}

func TestProbabilityAndThreshold(t *testing.T) {
	logits := ts.MustOfSlice([]float32{-10, 0, 10}).MustView([]int64{1, 1, 1, 3}, true)

	prob := metric.Probability(logits)
	vals := prob.Float64Values()
	assert.InDelta(t, 0.0, vals[0], 1e-4)
	assert.InDelta(t, 0.5, vals[1], 1e-9)
	assert.InDelta(t, 1.0, vals[2], 1e-4)

	mask := metric.Threshold(prob, metric.DefaultThreshold)
	assert.Equal(t, gotch.Float, mask.DType())
	assert.Equal(t, []float64{0, 0, 1}, mask.Float64Values())
	assert.Equal(t, []int64{1, 1, 1, 3}, mask.MustSize())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, metric.Summary{}, metric.Summarize(nil))

	s := metric.Summarize([]float64{0.5})
	assert.Equal(t, metric.Summary{N: 1, Mean: 0.5, Min: 0.5, Max: 0.5}, s)

	s = metric.Summarize([]float64{0.25, 0.75, 0.5})
	assert.Equal(t, 3, s.N)
	assert.InDelta(t, 0.5, s.Mean, 1e-12)
	assert.InDelta(t, 0.25, s.Std, 1e-12)
	assert.Equal(t, 0.25, s.Min)
	assert.Equal(t, 0.75, s.Max)
}

func TestBCEWithLogits(t *testing.T) {
	logit := ts.MustZeros([]int64{1, 1, 1, 2}, gotch.Float, gotch.CPU)
	mask := ts.MustOfSlice([]float32{1, 0}).MustView([]int64{1, 2}, true)

	assert.InDelta(t, math.Ln2, metric.BCEWithLogits(logit, mask), 1e-6)
	// 0.2 * (1 - 2/3) soft dice on p = 0.5
	assert.InDelta(t, 0.8*math.Ln2+0.2/3, metric.Loss(logit, mask), 1e-6)
}

func TestSoftDiceLoss(t *testing.T) {
	prob := ts.MustOfSlice([]float32{1, 0, 1, 0})
	mask := ts.MustOfSlice([]float32{1, 0, 0, 0})

	// tp 1, fp 1, fn 0
	assert.InDelta(t, 0.25, metric.SoftDiceLoss(prob, mask), 1e-9)
	assert.InDelta(t, 0.0, metric.SoftDiceLoss(mask, mask), 1e-9)
}

func TestAccuracy(t *testing.T) {
	prob := ts.MustOfSlice([]float32{0.9, 0.1, 0.8, 0.2})
	mask := ts.MustOfSlice([]float32{1, 0, 0, 1})

	tp, tn := metric.Accuracy(prob, mask, 0.5)
	assert.InDelta(t, 0.5, tp, 1e-9)
	assert.InDelta(t, 0.5, tn, 1e-9)

	empty := ts.MustZeros([]int64{4}, gotch.Float, gotch.CPU)
	tp, tn = metric.Accuracy(empty, empty, 0.5)
	assert.Equal(t, 1.0, tp)
	assert.Equal(t, 1.0, tn)
}
