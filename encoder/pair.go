package encoder

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"github.com/sugarme/gotch/ts"
)

// ForwardPair runs enc over the before and the after image.
//
// With parallel set, each branch runs on its own goroutine and ForwardPair
// returns only after both finished. Branches share enc's variables read-only.
//
// Training updates batch norm running statistics in place, so with train set
// the branches always run one after the other: before, then after.
func ForwardPair(enc Encoder, before, after *ts.Tensor, train, parallel bool) (b, a []*ts.Tensor, err error) {
	if !parallel || train {
		b = enc.ForwardAll(before, train)
		a = enc.ForwardAll(after, train)
		return b, a, nil
	}

	var wg conc.WaitGroup
	wg.Go(func() { b = runBranch(enc, before) })
	wg.Go(func() { a = runBranch(enc, after) })
	if r := wg.WaitAndRecover(); r != nil {
		Drop(b)
		Drop(a)
		return nil, nil, errors.Wrap(r.AsError(), "encoder branch failed")
	}

	return b, a, nil
}

// runBranch forwards one inference branch on a goroutine. Grad mode is thread
// local in libtorch, so the branch pins its OS thread and disables it there.
func runBranch(enc Encoder, x *ts.Tensor) []*ts.Tensor {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	prev := ts.MustGradSetEnabled(false)
	defer ts.MustGradSetEnabled(prev)

	return enc.ForwardAll(x, false)
}

// Drop frees every non-nil feature tensor.
func Drop(features []*ts.Tensor) {
	for _, f := range features {
		if f != nil {
			f.MustDrop()
		}
	}
}
