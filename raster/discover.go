package raster

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File suffixes of a chip triplet.
const (
	BeforeSuffix = "_before.tif"
	AfterSuffix  = "_after.tif"
	MaskSuffix   = "_mask.tif"
)

// Triplet is a before/after chip pair and its optional reference mask.
type Triplet struct {
	Name   string
	Before string
	After  string
	Mask   string // empty when no mask exists
}

// Discover lists every `<name>_before.tif` in dir that has a matching
// `<name>_after.tif`, sorted by name. Pairs without an after chip are skipped.
func Discover(dir string) ([]Triplet, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+BeforeSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []Triplet
	for _, before := range matches {
		name := strings.TrimSuffix(filepath.Base(before), BeforeSuffix)
		t := Triplet{
			Name:   name,
			Before: before,
			After:  filepath.Join(dir, name+AfterSuffix),
		}
		if !exists(t.After) {
			continue
		}
		if mask := filepath.Join(dir, name+MaskSuffix); exists(mask) {
			t.Mask = mask
		}
		out = append(out, t)
	}

	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
