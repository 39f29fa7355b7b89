package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/changedet/config"
	"github.com/sugarme/changedet/raster"
	"github.com/sugarme/changedet/unet"
)

// openModel restores the configured weights, or builds a random model when
// no weight file is configured.
func openModel(cfg *config.Config) (*unet.SiameseUNet, error) {
	if cfg.Weights == "" {
		return unet.New(cfg.Model())
	}
	return unet.Restore(cfg.Model(), cfg.Weights)
}

// runCheckModel prints the shape of every intermediate tensor for a chip pair
// (or a random 256x256 pair) followed by the model variables.
func runCheckModel(cfg *config.Config) error {
	net, err := openModel(cfg)
	if err != nil {
		return err
	}

	var before, after *ts.Tensor
	if BeforePath != "" && AfterPath != "" {
		if before, after, err = raster.ReadPair(BeforePath, AfterPath, cfg.Scale); err != nil {
			return err
		}
	} else {
		size := []int64{1, cfg.InChannels, 256, 256}
		before = ts.MustRand(size, gotch.Float, gotch.CPU)
		after = ts.MustRand(size, gotch.Float, gotch.CPU)
	}
	defer before.MustDrop()
	defer after.MustDrop()

	out, trace, err := net.Trace(before, after)
	if err != nil {
		return err
	}
	defer out.MustDrop()

	fmt.Print(trace)
	fmt.Println()
	printVars(net)

	return nil
}

// printVars print variables sorted by name
func printVars(net *unet.SiameseUNet) {
	var total int64
	for _, v := range net.NamedShapes() {
		n := int64(1)
		for _, d := range v.Shape {
			n *= d
		}
		total += n
		fmt.Printf("%-50s %v\n", v.Name, v.Shape)
	}
	fmt.Printf("%d parameters\n", total)
}

// runInit writes a freshly initialised weight set.
func runInit(cfg *config.Config) error {
	net, err := unet.New(cfg.Model())
	if err != nil {
		return err
	}

	path := cfg.Weights
	if path == "" {
		path = filepath.Join(OutPath, "siamese_unet.ot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := net.Save(path); err != nil {
		return err
	}

	fmt.Printf("[OK] initialised weights written to %v\n", path)
	return nil
}

// runFuse reloads a weight file through the checked loader and writes it
// back out.
func runFuse(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Weights == "" {
		return errors.New("fuse needs a weight file; specify the 'model' flag")
	}

	net, err := unet.Restore(cfg.Model(), cfg.Weights)
	if err != nil {
		return err
	}
	logger.Debug("weights loaded", "path", cfg.Weights, "variables", len(net.NamedShapes()))

	path := OutPath
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "fused.ot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := net.Save(path); err != nil {
		return err
	}

	fmt.Printf("[OK] fused model written to %v\n", path)
	return nil
}
