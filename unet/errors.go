package unet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Use errors.Is to tell them apart; every fatal condition the
// model reports wraps exactly one of these.
var (
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrChannelMismatch = errors.New("channel mismatch")
	ErrWeightMismatch  = errors.New("weight mismatch")
	ErrInvalidConfig   = errors.New("invalid config")
)

// ShapeError reports a before/after input pair that cannot be fused.
type ShapeError struct {
	Dim    string // "rank", "batch", "channel", "height" or "width"
	Before int64
	After  int64
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v: %v %v", ErrShapeMismatch, e.Dim, e.Reason)
	}
	return fmt.Sprintf("%v: %v differs (before=%v, after=%v)", ErrShapeMismatch, e.Dim, e.Before, e.After)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

// ChannelError reports inputs whose channel count differs from the configured one.
type ChannelError struct {
	Want int64
	Got  int64
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%v: model built for %v input channels, got %v", ErrChannelMismatch, e.Want, e.Got)
}

func (e *ChannelError) Unwrap() error { return ErrChannelMismatch }

// WeightError reports a weight file that does not fit the constructed model.
type WeightError struct {
	Path       string
	Missing    []string
	Unexpected []string
	Mismatched []string
	Cause      error
}

func (e *WeightError) Error() string {
	var parts []string
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected %v", strings.Join(e.Unexpected, ", ")))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("mismatched %v", strings.Join(e.Mismatched, ", ")))
	}
	return fmt.Sprintf("%v in %q: %v", ErrWeightMismatch, e.Path, strings.Join(parts, "; "))
}

func (e *WeightError) Unwrap() error { return ErrWeightMismatch }
