package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/sugarme/gotch"

	"github.com/sugarme/changedet/config"
	"github.com/sugarme/changedet/predict"
	"github.com/sugarme/changedet/raster"
)

// triplets returns the -before/-after pair when given, otherwise every chip
// pair found in DataPath.
func triplets() ([]raster.Triplet, error) {
	if BeforePath != "" || AfterPath != "" {
		if BeforePath == "" || AfterPath == "" {
			return nil, errors.New("specify both 'before' and 'after' flags")
		}
		name := strings.TrimSuffix(filepath.Base(BeforePath), raster.BeforeSuffix)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		return []raster.Triplet{{Name: name, Before: BeforePath, After: AfterPath}}, nil
	}

	found, err := raster.Discover(DataPath)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.Errorf("no '*%v' chips with a matching after chip in %v", raster.BeforeSuffix, DataPath)
	}
	return found, nil
}

func newPredictor(cfg *config.Config, logger *slog.Logger) (*predict.Predictor, error) {
	if cfg.Weights == "" {
		logger.Warn("no weight file given; predicting with random weights")
	}
	net, err := openModel(cfg)
	if err != nil {
		return nil, err
	}
	return predict.New(net), nil
}

// runPredict writes a probability TIFF, a mask PNG and an overlay PNG per chip pair.
func runPredict(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pairs, err := triplets()
	if err != nil {
		return err
	}
	p, err := newPredictor(cfg, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(OutPath, 0755); err != nil {
		return err
	}

	opts := raster.DefaultOverlayOptions()
	opts.Threshold = cfg.Threshold
	if cfg.InChannels < 3 {
		opts.RGB = [3]int{0, 0, 0}
	}

	wp := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(cfg.Workers)
	for _, t := range pairs {
		t := t
		wp.Go(func(ctx context.Context) error {
			if err := predictOne(ctx, p, cfg, t, opts); err != nil {
				return errors.Wrapf(err, "chip %v", t.Name)
			}
			logger.Info("predicted", "chip", t.Name)
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return err
	}

	fmt.Printf("[OK] predicted %d chip pairs into %v\n", len(pairs), OutPath)
	return nil
}

func predictOne(ctx context.Context, p *predict.Predictor, cfg *config.Config, t raster.Triplet, opts raster.OverlayOptions) error {
	before, after, err := raster.ReadPair(t.Before, t.After, cfg.Scale)
	if err != nil {
		return err
	}
	defer before.MustDrop()
	defer after.MustDrop()

	prob, err := p.Probability(ctx, before, after)
	if err != nil {
		return err
	}
	prob = prob.MustTo(gotch.CPU, true)
	defer prob.MustDrop()

	out := func(suffix string) string { return filepath.Join(OutPath, t.Name+suffix) }
	if err := raster.WriteProbability(out("_prob.tif"), prob); err != nil {
		return err
	}
	if err := raster.WriteMask(out("_change.png"), prob, cfg.Threshold); err != nil {
		return err
	}
	return raster.WriteOverlay(out("_overlay.png"), after, prob, opts)
}
