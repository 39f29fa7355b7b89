package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sugarme/changedet/config"
)

// flag variables
var (
	ConfigPath string
	DataPath   string
	OutPath    string
	BeforePath string
	AfterPath  string
	task       string
	verbose    bool

	overrides config.Overrides
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "specify YAML config file. Flags override its values.")
	flag.StringVar(&DataPath, "input", "./data/chips", "specify chip directory holding <name>_before.tif, <name>_after.tif and <name>_mask.tif")
	flag.StringVar(&OutPath, "out", "./output", "specify output directory or file")
	flag.StringVar(&BeforePath, "before", "", "specify a single before chip (predict, model)")
	flag.StringVar(&AfterPath, "after", "", "specify a single after chip (predict, model)")
	flag.StringVar(&task, "task", "model", "specify task to run: model, init, predict, eval, fuse")
	flag.BoolVar(&verbose, "v", false, "specify whether to log debug messages")

	flag.StringVar(&overrides.Weights, "model", "", "specify full path to model weight '.ot' file.")
	flag.Int64Var(&overrides.InChannels, "bands", 0, "specify bands per time step")
	flag.Int64Var(&overrides.Base, "base", 0, "specify base width")
	flag.BoolVar(&overrides.Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.BoolVar(&overrides.Parallel, "parallel", false, "specify whether to run before/after branches concurrently")
	flag.Float64Var(&overrides.Threshold, "threshold", 0, "specify change probability threshold")
	flag.Float64Var(&overrides.Scale, "scale", 0, "specify reflectance scale divisor")
	flag.IntVar(&overrides.Workers, "workers", 0, "specify number of concurrent predictions")
	flag.IntVar(&overrides.Limit, "limit", 0, "specify max chips to evaluate")
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	DataPath = absPath(DataPath)
	OutPath = absPath(OutPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Debug("starting", "task", task, "device", cfg.Device(), "bands", cfg.InChannels, "base", cfg.Base)

	switch task {
	case "model":
		err = runCheckModel(cfg)
	case "init":
		err = runInit(cfg)
	case "predict":
		err = runPredict(ctx, cfg, logger)
	case "eval":
		err = runEval(ctx, cfg, logger)
	case "fuse":
		err = runFuse(cfg, logger)
	default:
		err = fmt.Errorf("unknown task %q; specify a valid 'task' flag to run", task)
	}
	if err != nil {
		logger.Error("task failed", "task", task, "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if ConfigPath != "" {
		var err error
		if cfg, err = config.Load(ConfigPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(overrides)
	if cfg.Weights != "" {
		cfg.Weights = absPath(cfg.Weights)
	}
	return cfg, cfg.Validate()
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		slog.Error("resolving path", "path", p, "error", err)
		os.Exit(1)
	}
	return fullpath
}
