package standard

import (
	"errors"
	"fmt"
)

// ErrCaptureType is returned when a capturing group is requested with a type
// it cannot provide.
var ErrCaptureType = errors.New("standard: capturing group has wrong type")

// Captures is a binary tree of named values extracted during a match. The
// nil value is the empty tree; leaves are [ValueCapture] or [RangeCapture].
// Trees are never modified: combining two trees allocates a new pair node.
type Captures interface {
	find(name string) Captures
}

// ValueCapture is a leaf carrying an already typed value.
type ValueCapture struct {
	Name  string
	Value any
}

func (c ValueCapture) find(name string) Captures {
	if c.Name == name {
		return c
	}
	return nil
}

// RangeCapture is a leaf referring to the byte span [Start, End) of the
// matched input.
type RangeCapture struct {
	Name       string
	Start, End int
}

func (c RangeCapture) find(name string) Captures {
	if c.Name == name {
		return c
	}
	return nil
}

type capturePair struct {
	first, second Captures
}

func (p *capturePair) find(name string) Captures {
	if c := findCapture(p.first, name); c != nil {
		return c
	}
	return findCapture(p.second, name)
}

func findCapture(c Captures, name string) Captures {
	if c == nil {
		return nil
	}
	return c.find(name)
}

// joinCaptures returns the pair (a, b), or whichever side is non-nil.
func joinCaptures(a, b Captures) Captures {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return &capturePair{first: a, second: b}
}

// Find returns the first leaf named name in depth-first, first-then-second
// order, or nil.
func (s Score) Find(name string) Captures {
	return findCapture(s.Captures, name)
}

// CapturingGroup extracts the capturing group name from s. input must be the
// text the score was computed on.
//
// It returns ok=false when the group was not captured. Requesting a typed
// leaf as another type, or a span leaf as anything but string, fails with
// [ErrCaptureType].
func CapturingGroup[T any](s Score, input, name string) (value T, ok bool, err error) {
	switch c := s.Find(name).(type) {
	case nil:
		return value, false, nil
	case ValueCapture:
		if v, isT := c.Value.(T); isT {
			return v, true, nil
		}
		return value, false, fmt.Errorf("%w: %q holds %T, requested %T", ErrCaptureType, name, c.Value, value)
	case RangeCapture:
		if c.Start < 0 || c.End > len(input) || c.Start > c.End {
			return value, false, fmt.Errorf("standard: capturing group %q span [%d:%d] outside input of length %d", name, c.Start, c.End, len(input))
		}
		if v, isT := any(input[c.Start:c.End]).(T); isT {
			return v, true, nil
		}
		return value, false, fmt.Errorf("%w: %q is a text span, requested %T", ErrCaptureType, name, value)
	default:
		return value, false, fmt.Errorf("%w: %q has unexpected node %T", ErrCaptureType, name, c)
	}
}
