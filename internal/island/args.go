package island

import (
	"github.com/roach88/island/internal/ir"
)

// Args is the decoded argument list handed to a handler.
//
// Values are ir.IRValue for passthrough arguments, or whatever a transcoder
// decodes to.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Value returns argument i, or nil if out of range.
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

func (a Args) irValue(i int) (ir.IRValue, error) {
	if i < 0 || i >= len(a) {
		return nil, malformed("missing argument %d", i)
	}
	v, ok, err := ir.FromGo(a[i])
	if err != nil {
		return nil, malformed("argument %d: %v", i, err)
	}
	if !ok {
		return nil, malformed("argument %d has type %T", i, a[i])
	}
	return v, nil
}

// Int returns argument i as an integer.
func (a Args) Int(i int) (int64, error) {
	v, err := a.irValue(i)
	if err != nil {
		return 0, err
	}
	n, ok := ir.AsInt(v)
	if !ok {
		return 0, malformed("argument %d is not an integer", i)
	}
	return n, nil
}

// Float returns argument i as a float.
func (a Args) Float(i int) (float64, error) {
	v, err := a.irValue(i)
	if err != nil {
		return 0, err
	}
	f, ok := ir.AsFloat(v)
	if !ok {
		return 0, malformed("argument %d is not a number", i)
	}
	return f, nil
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	v, err := a.irValue(i)
	if err != nil {
		return "", err
	}
	s, ok := ir.AsString(v)
	if !ok {
		return "", malformed("argument %d is not a string", i)
	}
	return s, nil
}

// Bool returns argument i as a bool.
func (a Args) Bool(i int) (bool, error) {
	v, err := a.irValue(i)
	if err != nil {
		return false, err
	}
	b, ok := ir.AsBool(v)
	if !ok {
		return false, malformed("argument %d is not a bool", i)
	}
	return b, nil
}
