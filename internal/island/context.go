package island

import (
	"fmt"

	"github.com/roach88/island/internal/ir"
)

// ModelContext is the capability handed to model code. It is valid only for
// the Model realm entry that minted it; calls after release fail with a
// realm violation.
type ModelContext struct {
	island *Island
	epoch  uint64
}

func (c *ModelContext) check() error {
	return c.island.realm.require(c.island.id, RealmModel, c.epoch)
}

// Now returns the island time. While a handler runs this is the scheduled
// time of its message, not the target of the surrounding advance.
func (c *ModelContext) Now() int64 {
	return c.island.time
}

// IslandID returns the id of the island this context belongs to.
func (c *ModelContext) IslandID() string {
	return c.island.id
}

// Random draws from the island generator.
func (c *ModelContext) Random() (float64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.island.rng.Float64(), nil
}

// RandomIntN draws an integer in [0, n) from the island generator.
func (c *ModelContext) RandomIntN(n int) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("RandomIntN: n must be positive, got %d", n)
	}
	return c.island.rng.IntN(n), nil
}

// Future schedules selector on t at Now()+offset. The selector must be a
// registered handler for the target's kind and part.
func (c *ModelContext) Future(offset int64, t Target, selector string, args ...any) error {
	if err := c.check(); err != nil {
		return err
	}
	if offset < 0 {
		return &Error{
			Code:     ErrCodeInvalidOffset,
			Message:  fmt.Sprintf("future offset %d is negative", offset),
			Island:   c.island.id,
			Receiver: t.Receiver,
			Selector: selector,
		}
	}
	return c.island.schedule(c.island.time+offset, t, selector, args)
}

// Create instantiates a registered kind and assigns the next model id.
// Initializer.Init runs before Create returns.
func (c *ModelContext) Create(kind string) (Model, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	i := c.island
	id := fmt.Sprintf("M%d", i.nextModelID+1)
	m, err := i.reg.newModel(kind, id)
	if err != nil {
		return nil, err
	}
	i.nextModelID++
	i.models[id] = m
	i.order = append(i.order, id)

	if init, ok := m.(Initializer); ok {
		if err := init.Init(c); err != nil {
			return nil, fmt.Errorf("init %s (%s): %w", id, kind, err)
		}
	}
	return m, nil
}

// Create is the typed form of ModelContext.Create.
func Create[T Model](c *ModelContext, kind string) (T, error) {
	var zero T
	m, err := c.Create(kind)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("create %q: got %T, want %T", kind, m, zero)
	}
	return t, nil
}

// Destroy removes a model and its model subscriptions. Messages already
// queued for it are dropped when they come due.
func (c *ModelContext) Destroy(id string) error {
	if err := c.check(); err != nil {
		return err
	}
	i := c.island
	if _, ok := i.models[id]; !ok {
		return unknownReceiver(id, "")
	}
	delete(i.models, id)
	for n, o := range i.order {
		if o == id {
			i.order = append(i.order[:n], i.order[n+1:]...)
			break
		}
	}
	i.dropModelSubscriber(id)
	return nil
}

// Lookup returns a model by id.
func (c *ModelContext) Lookup(id string) (Model, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	m, ok := c.island.models[id]
	if !ok {
		return nil, unknownReceiver(id, "")
	}
	return m, nil
}

// Publish sends an event to topic "scope:event". Model subscribers receive
// it as offset-0 future messages; view subscribers get one pending view
// event each.
func (c *ModelContext) Publish(scope, event string, data any) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.island.publishFromModel(scope, event, data)
}

// Subscribe routes topic "scope:event" to selector on t.
func (c *ModelContext) Subscribe(scope, event string, t Target, selector string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.island.subscribeModel(Topic(scope, event), t, selector)
}

// Unsubscribe removes a model subscription.
func (c *ModelContext) Unsubscribe(scope, event string, t Target, selector string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.island.unsubscribeModel(Topic(scope, event), t, selector)
	return nil
}

// ViewHandler receives events in View realm.
type ViewHandler func(ctx *ViewContext, data any) error

// ViewContext is the capability handed to view code. Views never hold a
// model: they read copies of model state and change it only through Send.
type ViewContext struct {
	island *Island
	epoch  uint64
}

func (c *ViewContext) check() error {
	return c.island.realm.require(c.island.id, RealmView, c.epoch)
}

// Now returns the island time.
func (c *ViewContext) Now() int64 {
	return c.island.time
}

// Kind returns the kind tag of model id.
func (c *ViewContext) Kind(id string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	kind, ok := c.island.ModelKind(id)
	if !ok {
		return "", unknownReceiver(id, "")
	}
	return kind, nil
}

// State returns a copy of model id's replicated state.
func (c *ViewContext) State(id string) (ir.IRObject, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.island.ModelState(id)
}

// AttachView allocates a local view id ("V1", "V2", ...).
func (c *ViewContext) AttachView() (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	i := c.island
	i.nextViewID++
	id := fmt.Sprintf("V%d", i.nextViewID)
	i.views[id] = struct{}{}
	return id, nil
}

// DetachView removes a view and all its subscriptions.
func (c *ViewContext) DetachView(id string) error {
	if err := c.check(); err != nil {
		return err
	}
	delete(c.island.views, id)
	c.island.dropViewSubscriber(id)
	return nil
}

// Subscribe registers h for topic "scope:event" on an attached view.
func (c *ViewContext) Subscribe(scope, event, viewID string, h ViewHandler) error {
	if err := c.check(); err != nil {
		return err
	}
	if _, ok := c.island.views[viewID]; !ok {
		return fmt.Errorf("subscribe: view %q is not attached", viewID)
	}
	c.island.subscribeView(Topic(scope, event), viewID, h)
	return nil
}

// Unsubscribe removes the view's handler for topic "scope:event".
func (c *ViewContext) Unsubscribe(scope, event, viewID string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.island.unsubscribeView(Topic(scope, event), viewID)
	return nil
}

// Publish delivers an event synchronously to view subscribers only.
// View-to-view events never reach models.
func (c *ViewContext) Publish(scope, event string, data any) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.island.deliverView(c, Topic(scope, event), data)
}

// Send asks the reflector to broadcast a message to t. It reaches the model
// only when the ordered copy comes back.
func (c *ViewContext) Send(t Target, selector string, args ...any) error {
	if err := c.check(); err != nil {
		return err
	}
	i := c.island
	if err := i.checkHandler(t, selector); err != nil {
		return err
	}
	payload, err := encodeCall(i.reg, t, selector, args)
	if err != nil {
		return err
	}
	if i.sender == nil {
		return fmt.Errorf("send %s.%s: island has no sender", t, selector)
	}
	return i.sender.Send(payload)
}
