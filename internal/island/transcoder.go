package island

import (
	"github.com/roach88/island/internal/ir"
)

// Transcoder converts handler arguments to and from plain IR arrays before
// JSON serialization. Structured types (vectors, quaternions) register one to
// keep payloads compact.
type Transcoder interface {
	Encode(args []any) (ir.IRArray, error)
	Decode(args ir.IRArray) ([]any, error)
}

// Passthrough is the default global transcoder. It accepts any value ir.FromGo
// understands and decodes to IR values.
type Passthrough struct{}

// Encode implements Transcoder.
func (Passthrough) Encode(args []any) (ir.IRArray, error) {
	out := make(ir.IRArray, len(args))
	for i, a := range args {
		v, ok, err := ir.FromGo(a)
		if err != nil {
			return nil, malformed("argument %d: %v", i, err)
		}
		if !ok {
			return nil, &Error{
				Code:    ErrCodeMissingTranscoder,
				Message: "no transcoder for argument type",
				Details: map[string]string{"index": itoa(i), "type": typeName(a)},
			}
		}
		out[i] = v
	}
	return out, nil
}

// Decode implements Transcoder.
func (Passthrough) Decode(args ir.IRArray) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out, nil
}

// TranscoderFuncs adapts a pair of functions to Transcoder.
type TranscoderFuncs struct {
	EncodeFunc func(args []any) (ir.IRArray, error)
	DecodeFunc func(args ir.IRArray) ([]any, error)
}

// Encode implements Transcoder.
func (f TranscoderFuncs) Encode(args []any) (ir.IRArray, error) { return f.EncodeFunc(args) }

// Decode implements Transcoder.
func (f TranscoderFuncs) Decode(args ir.IRArray) ([]any, error) { return f.DecodeFunc(args) }

type transcoderKey struct {
	part     string
	selector string
}
