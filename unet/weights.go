package unet

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

// NamedShape is a variable name with its shape.
type NamedShape struct {
	Name  string
	Shape []int64
}

// NamedShapes lists every variable of the model sorted by name.
func (m *SiameseUNet) NamedShapes() []NamedShape {
	vars := m.vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]NamedShape, 0, len(names))
	for _, n := range names {
		x := vars[n]
		out = append(out, NamedShape{Name: n, Shape: x.MustSize()})
	}
	return out
}

// Save writes every variable (including batch norm running statistics) to
// path as a single named-tensor file. The file is written next to path and
// renamed into place, so readers never observe a partial file.
func (m *SiameseUNet) Save(path string) error {
	dir, name := filepath.Split(path)
	tmp := filepath.Join(dir, ".partial-"+name)
	if err := m.vs.Save(tmp); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "saving weights to %q", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "saving weights to %q", path)
	}
	return nil
}

// Load replaces the model weights with those stored at path.
//
// Loading is all-or-nothing: every tensor in the file is staged and checked
// for an exact name set, shape and dtype match before any variable changes.
// On any mismatch a *WeightError is returned and the current weights are kept.
func (m *SiameseUNet) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "loading weights")
	}

	named, err := ts.LoadMultiWithDevice(path, m.cfg.Device)
	if err != nil {
		return &WeightError{Path: path, Cause: err}
	}
	staged := make(map[string]*ts.Tensor, len(named))
	for _, nt := range named {
		staged[nt.Name] = nt.Tensor
	}
	defer func() {
		for _, x := range staged {
			x.MustDrop()
		}
	}()

	vars := m.vs.Variables()
	werr := &WeightError{Path: path}
	for name, v := range vars {
		x, ok := staged[name]
		if !ok {
			werr.Missing = append(werr.Missing, name)
			continue
		}
		want, got := v.MustSize(), x.MustSize()
		if !reflect.DeepEqual(want, got) {
			werr.Mismatched = append(werr.Mismatched, fmt.Sprintf("%v (want %v, got %v)", name, want, got))
			continue
		}
		if v.DType() != x.DType() {
			werr.Mismatched = append(werr.Mismatched, fmt.Sprintf("%v (want %v, got %v)", name, v.DType(), x.DType()))
		}
	}
	for name := range staged {
		if _, ok := vars[name]; !ok {
			werr.Unexpected = append(werr.Unexpected, name)
		}
	}
	if len(werr.Missing)+len(werr.Unexpected)+len(werr.Mismatched) > 0 {
		sort.Strings(werr.Missing)
		sort.Strings(werr.Unexpected)
		sort.Strings(werr.Mismatched)
		return werr
	}

	ts.NoGrad(func() {
		for name, v := range vars {
			v.Copy_(staged[name])
		}
	})

	return nil
}

// Restore builds a new model from cfg and loads the weights at path into it.
func Restore(cfg Config, path string) (*SiameseUNet, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Load(path); err != nil {
		m.Drop()
		return nil, err
	}
	return m, nil
}
