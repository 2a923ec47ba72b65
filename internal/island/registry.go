package island

import (
	"fmt"
	"slices"

	"github.com/roach88/island/internal/ir"
)

// Factory returns a zero-valued model of one kind.
type Factory func() Model

// Handler is a registered message handler. target is the receiving model, or
// the part the message addressed.
type Handler func(ctx *ModelContext, target any, args Args) error

// Handle adapts a typed handler, asserting the target type at call time.
func Handle[T any](fn func(ctx *ModelContext, target T, args Args) error) Handler {
	return func(ctx *ModelContext, target any, args Args) error {
		t, ok := target.(T)
		if !ok {
			var zero T
			return fmt.Errorf("handler expects %T, got %T", zero, target)
		}
		return fn(ctx, t, args)
	}
}

type handlerKey struct {
	part     string
	selector string
}

type kindEntry struct {
	factory  Factory
	handlers map[handlerKey]Handler
}

// Registry is the explicit table of model kinds, handlers and transcoders.
//
// Build it at startup; it is read-only once islands use it and is shared
// between islands without locking.
type Registry struct {
	kinds       map[string]*kindEntry
	transcoders map[transcoderKey]Transcoder
}

// NewRegistry creates a registry whose global transcoder is Passthrough.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]*kindEntry),
		transcoders: map[transcoderKey]Transcoder{
			{}: Passthrough{},
		},
	}
}

// Define registers a model kind.
func (r *Registry) Define(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("define: empty kind")
	}
	if factory == nil {
		return fmt.Errorf("define %q: nil factory", kind)
	}
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("define %q: kind already registered", kind)
	}
	r.kinds[kind] = &kindEntry{
		factory:  factory,
		handlers: make(map[handlerKey]Handler),
	}
	return nil
}

// On registers the handler for selector on models of kind.
func (r *Registry) On(kind, selector string, h Handler) error {
	return r.OnPart(kind, "", selector, h)
}

// OnPart registers the handler for selector on a part of models of kind.
func (r *Registry) OnPart(kind, part, selector string, h Handler) error {
	entry, ok := r.kinds[kind]
	if !ok {
		return &Error{Code: ErrCodeUnknownKind, Message: fmt.Sprintf("kind %q is not defined", kind)}
	}
	if err := validateAddress(Target{Receiver: "_", Part: part}, selector); err != nil {
		return err
	}
	key := handlerKey{part: part, selector: selector}
	if _, exists := entry.handlers[key]; exists {
		return fmt.Errorf("on %s %q: handler already registered", kind, selector)
	}
	entry.handlers[key] = h
	return nil
}

// SetTranscoder registers t for (part, selector). An empty part or selector
// is a wildcard; ("", "") is the global transcoder. A nil t removes the entry.
func (r *Registry) SetTranscoder(part, selector string, t Transcoder) {
	key := transcoderKey{part: part, selector: selector}
	if t == nil {
		delete(r.transcoders, key)
		return
	}
	r.transcoders[key] = t
}

// Kinds returns the defined kinds in sorted order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// transcoder looks up (part, selector), then selector, then part, then global.
func (r *Registry) transcoder(part, selector string) (Transcoder, error) {
	keys := []transcoderKey{
		{part: part, selector: selector},
		{selector: selector},
		{part: part},
		{},
	}
	for _, k := range keys {
		if t, ok := r.transcoders[k]; ok {
			return t, nil
		}
	}
	return nil, &Error{
		Code:     ErrCodeMissingTranscoder,
		Message:  "no transcoder registered",
		Selector: selector,
	}
}

func (r *Registry) handler(kind, part, selector string) (Handler, bool) {
	entry, ok := r.kinds[kind]
	if !ok {
		return nil, false
	}
	h, ok := entry.handlers[handlerKey{part: part, selector: selector}]
	return h, ok
}

// Decode instantiates kind as id and loads state into it. The model is
// detached: it belongs to no island and references to other models are not
// resolved.
func (r *Registry) Decode(kind, id string, state ir.IRObject) (Model, error) {
	m, err := r.newModel(kind, id)
	if err != nil {
		return nil, err
	}
	if err := m.UnmarshalState(state); err != nil {
		return nil, fmt.Errorf("restore model %s (%s): %w", id, kind, err)
	}
	return m, nil
}

func (r *Registry) newModel(kind, id string) (Model, error) {
	entry, ok := r.kinds[kind]
	if !ok {
		return nil, &Error{
			Code:     ErrCodeUnknownKind,
			Message:  fmt.Sprintf("kind %q is not registered", kind),
			Receiver: id,
		}
	}
	m := entry.factory()
	if m == nil {
		return nil, fmt.Errorf("factory for %q returned nil", kind)
	}
	b := m.base()
	b.id = id
	b.kind = kind
	return m, nil
}
