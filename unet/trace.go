package unet

import (
	"fmt"
	"strings"

	"github.com/sugarme/gotch/ts"
)

// Step is the shape of one named intermediate tensor.
type Step struct {
	Name  string
	Shape []int64
}

// Trace records intermediate shapes of a forward pass, in execution order.
// A nil *Trace records nothing.
type Trace struct {
	Steps []Step
}

func (t *Trace) record(name string, x *ts.Tensor) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, Step{Name: name, Shape: x.MustSize()})
}

// Shape returns the recorded shape for name.
func (t *Trace) Shape(name string) ([]int64, bool) {
	for _, s := range t.Steps {
		if s.Name == name {
			return s.Shape, true
		}
	}
	return nil, false
}

// String formats the trace as an aligned table.
func (t *Trace) String() string {
	var sb strings.Builder
	for _, s := range t.Steps {
		fmt.Fprintf(&sb, "%-20s %v\n", s.Name, s.Shape)
	}
	return sb.String()
}
