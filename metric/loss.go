package metric

import (
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
)

// BCEWithLogits is the mean binary cross entropy between raw scores and a
// 0/1 reference mask of the same element count.
func BCEWithLogits(logit, mask *ts.Tensor) float64 {
	logitR := logit.MustReshape([]int64{-1}, false)
	maskR := mask.MustReshape([]int64{-1}, false).MustTotype(logitR.DType(), true)

	// NOTE: reduction: none = 0; mean = 1; sum = 2.
	loss := logitR.MustBinaryCrossEntropyWithLogits(maskR, ts.NewTensor(), ts.NewTensor(), 1, true)
	maskR.MustDrop()

	v := loss.Float64Values()[0]
	loss.MustDrop()
	return v
}

// SoftDiceLoss is 1 - (2TP+1)/(2TP+FP+FN+1) on soft probabilities.
//
// Ref. https://gist.github.com/jeremyjordan/9ea3032a32909f71dd2ab35fe3bacc08
func SoftDiceLoss(prob, mask *ts.Tensor) float64 {
	const smooth = 1.0

	x := prob.MustReshape([]int64{-1}, false).MustTotype(gotch.Double, true)
	y := mask.MustReshape([]int64{-1}, false).MustTotype(gotch.Double, true)
	tp, xSum, ySum := overlap(x, y)
	x.MustDrop()
	y.MustDrop()

	fp := xSum - tp
	fn := ySum - tp
	return 1 - (2*tp+smooth)/(2*tp+fp+fn+smooth)
}

// Loss weighs cross entropy 0.8 and soft dice 0.2 for one prediction.
func Loss(logit, mask *ts.Tensor) float64 {
	prob := Probability(logit)
	dice := SoftDiceLoss(prob, mask)
	prob.MustDrop()

	return 0.8*BCEWithLogits(logit, mask) + 0.2*dice
}

// Accuracy returns the true positive rate and true negative rate of
// prob > thr against mask > 0.5. A rate without any reference pixel is 1.
func Accuracy(prob, mask *ts.Tensor, thr float64) (tp, tn float64) {
	p := binarize(prob, thr)
	t := binarize(mask, 0.5)
	n := float64(t.Numel())
	inter, pSum, tSum := overlap(p, t)
	p.MustDrop()
	t.MustDrop()

	tp, tn = 1, 1
	if tSum > 0 {
		tp = inter / tSum
	}
	if neg := n - tSum; neg > 0 {
		tn = (n - pSum - tSum + inter) / neg
	}
	return tp, tn
}
