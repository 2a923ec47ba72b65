package island

import (
	"strings"

	"github.com/roach88/island/internal/ir"
)

// Model is a replicated simulation object.
//
// Implementations embed ModelBase and are created only through
// ModelContext.Create, which assigns the id. All state that must survive a
// snapshot goes through MarshalState/UnmarshalState.
type Model interface {
	ID() string
	Kind() string
	MarshalState() (ir.IRObject, error)
	UnmarshalState(state ir.IRObject) error
	base() *ModelBase
}

// ModelBase carries the island-assigned identity of a model.
type ModelBase struct {
	id   string
	kind string
}

// ID returns the island-assigned id ("M1", "M2", ...).
func (b *ModelBase) ID() string { return b.id }

// Kind returns the registered kind tag.
func (b *ModelBase) Kind() string { return b.kind }

func (b *ModelBase) base() *ModelBase { return b }

// Initializer is implemented by models that schedule work when created.
// Init runs in Model realm right after Create; it does not run on restore.
type Initializer interface {
	Init(ctx *ModelContext) error
}

// Refs looks up models by id during the second restore pass.
type Refs interface {
	Lookup(id string) (Model, bool)
}

// Resolver is implemented by models holding references to other models.
// ResolveRefs runs after every model in a snapshot has been instantiated.
type Resolver interface {
	ResolveRefs(refs Refs) error
}

// Composite is implemented by models exposing named sub-parts. A part may
// itself be Composite; paths join the names with "/".
type Composite interface {
	Part(name string) (any, bool)
}

// resolvePart walks a part path from a model.
func resolvePart(m Model, path string) (any, error) {
	if path == "" {
		return m, nil
	}
	var cur any = m
	for _, seg := range strings.Split(path, "/") {
		c, ok := cur.(Composite)
		if !ok {
			return nil, unknownReceiver(m.ID(), path)
		}
		next, ok := c.Part(seg)
		if !ok {
			return nil, unknownReceiver(m.ID(), path)
		}
		cur = next
	}
	return cur, nil
}
