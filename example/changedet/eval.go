package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/sugarme/gotch"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sugarme/changedet/config"
	"github.com/sugarme/changedet/metric"
	"github.com/sugarme/changedet/predict"
	"github.com/sugarme/changedet/raster"
)

// runEval scores predicted change masks against reference masks for at most
// cfg.Limit chips, then writes a per-chip CSV report and an IoU histogram.
func runEval(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	found, err := raster.Discover(DataPath)
	if err != nil {
		return err
	}
	var chips []raster.Triplet
	for _, t := range found {
		if t.Mask == "" {
			logger.Debug("skipping chip without mask", "chip", t.Name)
			continue
		}
		chips = append(chips, t)
	}
	if cfg.Limit > 0 && len(chips) > cfg.Limit {
		chips = chips[:cfg.Limit]
	}
	if len(chips) == 0 {
		return errors.Errorf("no chips with masks in %v", DataPath)
	}

	p, err := newPredictor(cfg, logger)
	if err != nil {
		return err
	}

	rows := make([]chipScore, len(chips))
	wp := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(cfg.Workers)
	for i, t := range chips {
		i, t := i, t
		wp.Go(func(ctx context.Context) error {
			row, err := evalOne(ctx, p, cfg, t)
			if err != nil {
				return errors.Wrapf(err, "chip %v", t.Name)
			}
			rows[i] = row
			logger.Debug("evaluated", "chip", t.Name, "iou", row.IoU, "loss", row.Loss)
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return err
	}

	if err := os.MkdirAll(OutPath, 0755); err != nil {
		return err
	}
	if err := writeReport(filepath.Join(OutPath, "eval.csv"), rows); err != nil {
		return err
	}
	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = r.IoU
	}
	if err := plotScores(filepath.Join(OutPath, "eval-iou.png"), scores); err != nil {
		return err
	}

	s := metric.Summarize(scores)
	logger.Info("evaluation done", "chips", s.N, "mean_iou", s.Mean, "std", s.Std, "min", s.Min, "max", s.Max)
	fmt.Printf("[OK] evaluated %d samples; mean_iou=%.4f\n", s.N, s.Mean)
	return nil
}

// chipScore is one row of the evaluation report.
type chipScore struct {
	Name string
	IoU  float64
	Dice float64
	Loss float64
	TPR  float64
	TNR  float64
}

func evalOne(ctx context.Context, p *predict.Predictor, cfg *config.Config, t raster.Triplet) (chipScore, error) {
	row := chipScore{Name: t.Name}

	before, after, err := raster.ReadPair(t.Before, t.After, cfg.Scale)
	if err != nil {
		return row, err
	}
	defer before.MustDrop()
	defer after.MustDrop()

	mask, err := raster.ReadChip(t.Mask, 0)
	if err != nil {
		return row, err
	}
	defer mask.MustDrop()

	logits, err := p.Predict(ctx, before, after)
	if err != nil {
		return row, err
	}
	logits = logits.MustTo(gotch.CPU, true)
	defer logits.MustDrop()
	prob := metric.Probability(logits)
	defer prob.MustDrop()

	// First mask band only, as 0/1.
	band := mask.MustNarrow(0, 0, 1, false).MustUnsqueeze(0, true)
	target := metric.Threshold(band, 0.5)
	band.MustDrop()
	defer target.MustDrop()
	changed := metric.Threshold(prob, cfg.Threshold)
	defer changed.MustDrop()

	row.IoU = metric.IoU(prob, target, cfg.Threshold)
	row.Dice = metric.DiceCoeff(changed, target)
	row.Loss = metric.Loss(logits, target)
	row.TPR, row.TNR = metric.Accuracy(prob, target, cfg.Threshold)
	return row, nil
}

// writeReport writes one row per chip sorted from worst to best IoU.
func writeReport(path string, rows []chipScore) error {
	n := len(rows)
	names := make([]string, n)
	cols := make([][]float64, 5)
	for i := range cols {
		cols[i] = make([]float64, n)
	}
	for i, r := range rows {
		names[i] = r.Name
		cols[0][i], cols[1][i], cols[2][i], cols[3][i], cols[4][i] = r.IoU, r.Dice, r.Loss, r.TPR, r.TNR
	}

	df := dataframe.New(
		series.New(names, series.String, "chip"),
		series.New(cols[0], series.Float, "iou"),
		series.New(cols[1], series.Float, "dice"),
		series.New(cols[2], series.Float, "loss"),
		series.New(cols[3], series.Float, "tpr"),
		series.New(cols[4], series.Float, "tnr"),
	).Arrange(dataframe.Sort("iou"))
	if df.Err != nil {
		return df.Err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// plotScores saves a histogram of per-chip IoU.
func plotScores(path string, scores []float64) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "IoU Histogram"
	p.X.Label.Text = "IoU"

	v := make(plotter.Values, len(scores))
	copy(v, scores)
	h, err := plotter.NewHist(v, 10)
	if err != nil {
		return err
	}
	p.Add(h)

	return p.Save(4*vg.Inch, 4*vg.Inch, path)
}
