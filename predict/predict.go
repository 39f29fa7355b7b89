// Package predict serves a SiameseUNet to concurrent callers.
//
// Any number of predictions may run at once against the current weights.
// Replacing the weights waits for running predictions to finish and blocks
// new ones until the swap is done, so a prediction never sees a half-loaded
// model.
package predict

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/metric"
	"github.com/sugarme/changedet/unet"
)

// Pair is a before/after image pair, each [B C H W].
type Pair struct {
	Before *ts.Tensor
	After  *ts.Tensor
}

// Predictor guards a model with a read-write lock.
type Predictor struct {
	mu    sync.RWMutex
	model *unet.SiameseUNet
}

// New wraps m.
func New(m *unet.SiameseUNet) *Predictor {
	return &Predictor{model: m}
}

// Open builds a model from cfg with the weights stored at path.
func Open(cfg unet.Config, path string) (*Predictor, error) {
	m, err := unet.Restore(cfg, path)
	if err != nil {
		return nil, err
	}
	return New(m), nil
}

// Model returns the model currently served. It stays valid until the next
// Reload.
func (p *Predictor) Model() *unet.SiameseUNet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// Predict returns raw change scores [B 1 H W] for one pair.
func (p *Predictor) Predict(ctx context.Context, before, after *ts.Tensor) (*ts.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	// Grad mode is per OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	return p.model.Forward(before, after)
}

// Probability returns sigmoid change probabilities [B 1 H W] for one pair.
func (p *Predictor) Probability(ctx context.Context, before, after *ts.Tensor) (*ts.Tensor, error) {
	logits, err := p.Predict(ctx, before, after)
	if err != nil {
		return nil, err
	}
	prob := metric.Probability(logits)
	logits.MustDrop()
	return prob, nil
}

// PredictAll scores every pair with at most workers concurrent predictions
// and returns the raw scores in input order. The first failure cancels the
// remaining pairs; on error no tensor is returned.
func (p *Predictor) PredictAll(ctx context.Context, pairs []Pair, workers int) ([]*ts.Tensor, error) {
	if workers < 1 {
		workers = 1
	}

	out := make([]*ts.Tensor, len(pairs))
	wp := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for i, pair := range pairs {
		i, pair := i, pair
		wp.Go(func(ctx context.Context) error {
			x, err := p.Predict(ctx, pair.Before, pair.After)
			if err != nil {
				return errors.Wrapf(err, "pair %d", i)
			}
			out[i] = x
			return nil
		})
	}

	if err := wp.Wait(); err != nil {
		for _, x := range out {
			if x != nil {
				x.MustDrop()
			}
		}
		return nil, err
	}
	return out, nil
}

// Swap serves m from now on and returns the model it replaced.
func (p *Predictor) Swap(m *unet.SiameseUNet) *unet.SiameseUNet {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.model
	p.model = m
	return old
}

// Reload builds a new model with the current configuration and the weights
// stored at path, then swaps it in and frees the replaced model. If loading
// fails the served model is left untouched.
func (p *Predictor) Reload(path string) error {
	m, err := unet.Restore(p.Model().Config(), path)
	if err != nil {
		return err
	}
	// Swap returns once no prediction holds the old model.
	p.Swap(m).Drop()
	return nil
}
