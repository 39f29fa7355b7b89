// Package metric turns raw change scores into probabilities and masks and
// scores predicted masks against reference masks.
package metric

import (
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the probability above which a pixel counts as changed.
const DefaultThreshold = 0.5

// Probability applies a sigmoid to raw scores.
func Probability(logits *ts.Tensor) *ts.Tensor {
	return logits.MustSigmoid(false)
}

// Threshold returns a float mask: 1 where x > thr, 0 elsewhere.
func Threshold(x *ts.Tensor, thr float64) *ts.Tensor {
	return x.MustGt(ts.FloatScalar(thr), false).MustTotype(gotch.Float, true)
}

// binarize returns x > thr as a double tensor.
func binarize(x *ts.Tensor, thr float64) *ts.Tensor {
	return x.MustGt(ts.FloatScalar(thr), false).MustTotype(gotch.Double, true)
}

func sum(x *ts.Tensor) float64 {
	s := x.MustSum(gotch.Double, false)
	v := s.Float64Values()[0]
	s.MustDrop()
	return v
}

// overlap returns intersection and the two mask sizes.
func overlap(p, t *ts.Tensor) (inter, pSum, tSum float64) {
	pt := p.MustMul(t, false)
	inter = sum(pt)
	pt.MustDrop()

	return inter, sum(p), sum(t)
}

// IoU computes intersection over union of pred > thr against target > 0.5.
// Two empty masks agree perfectly and score 1.
func IoU(pred, target *ts.Tensor, thr float64) float64 {
	p := binarize(pred, thr)
	t := binarize(target, 0.5)
	inter, pSum, tSum := overlap(p, t)
	p.MustDrop()
	t.MustDrop()

	union := pSum + tSum - inter
	if union == 0 {
		return 1.0
	}
	return inter / union
}

// DiceCoeff computes 2|P∩T| / (|P|+|T|) for pred > 0.5 and target > 0.5.
// Two empty masks score 1.
func DiceCoeff(pred, target *ts.Tensor) float64 {
	p := binarize(pred, DefaultThreshold)
	t := binarize(target, DefaultThreshold)
	inter, pSum, tSum := overlap(p, t)
	p.MustDrop()
	t.MustDrop()

	if pSum+tSum == 0 {
		return 1.0
	}
	return 2 * inter / (pSum + tSum)
}

// JaccardIndex computes IoU per class label in [0, numClasses) and returns
// the mean over classes. pred and target hold integer labels.
func JaccardIndex(pred, target *ts.Tensor, numClasses int64) float64 {
	var total float64
	for c := int64(0); c < numClasses; c++ {
		p := pred.MustEq(ts.IntScalar(c), false).MustTotype(gotch.Double, true)
		t := target.MustEq(ts.IntScalar(c), false).MustTotype(gotch.Double, true)
		inter, pSum, tSum := overlap(p, t)
		p.MustDrop()
		t.MustDrop()

		union := pSum + tSum - inter
		if union == 0 {
			total += 1.0
			continue
		}
		total += inter / union
	}

	return total / float64(numClasses)
}

// Summary describes a set of per-sample scores.
type Summary struct {
	N    int
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize computes count, mean, sample standard deviation and range.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{}
	}

	s := Summary{N: len(scores), Min: scores[0], Max: scores[0]}
	for _, v := range scores {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	if len(scores) == 1 {
		s.Mean = scores[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(scores, nil)

	return s
}
