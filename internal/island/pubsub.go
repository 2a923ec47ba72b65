package island

import (
	"github.com/roach88/island/internal/ir"
)

// Topic joins scope and event into a topic string.
func Topic(scope, event string) string {
	return scope + ":" + event
}

type modelSub struct {
	target   Target
	selector string
}

type viewSub struct {
	view    string
	handler ViewHandler
}

// viewEvent is one pending delivery to one view subscriber.
type viewEvent struct {
	topic string
	view  string
	data  any
}

func (i *Island) publishFromModel(scope, event string, data any) error {
	topic := Topic(scope, event)
	var args []any
	if data != nil {
		args = []any{data}
	}
	// Every notification is built before any is queued, so a failing
	// subscriber leaves the queue untouched.
	subs := i.modelSubs[topic]
	msgs := make([]Message, 0, len(subs))
	for _, s := range subs {
		m, err := i.prepare(s.target, s.selector, args)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	for _, m := range msgs {
		i.enqueue(i.time, m)
	}
	for _, s := range i.viewSubs[topic] {
		i.pendingView = append(i.pendingView, viewEvent{
			topic: topic,
			view:  s.view,
			data:  viewData(data),
		})
	}
	return nil
}

// viewData hands views a private copy of IR payloads so a view cannot write
// through to model state.
func viewData(data any) any {
	if v, ok := data.(ir.IRValue); ok {
		return ir.Clone(v)
	}
	return data
}

func (i *Island) subscribeModel(topic string, t Target, selector string) error {
	if err := i.checkHandler(t, selector); err != nil {
		return err
	}
	for _, s := range i.modelSubs[topic] {
		if s.target == t && s.selector == selector {
			return nil
		}
	}
	i.modelSubs[topic] = append(i.modelSubs[topic], modelSub{target: t, selector: selector})
	return nil
}

func (i *Island) unsubscribeModel(topic string, t Target, selector string) {
	subs := i.modelSubs[topic]
	for n, s := range subs {
		if s.target == t && s.selector == selector {
			subs = append(subs[:n:n], subs[n+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(i.modelSubs, topic)
		return
	}
	i.modelSubs[topic] = subs
}

func (i *Island) dropModelSubscriber(id string) {
	for topic, subs := range i.modelSubs {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.target.Receiver != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(i.modelSubs, topic)
		} else {
			i.modelSubs[topic] = kept
		}
	}
}

func (i *Island) subscribeView(topic, view string, h ViewHandler) {
	subs := i.viewSubs[topic]
	for n, s := range subs {
		if s.view == view {
			subs[n].handler = h
			return
		}
	}
	i.viewSubs[topic] = append(subs, viewSub{view: view, handler: h})
}

func (i *Island) unsubscribeView(topic, view string) {
	subs := i.viewSubs[topic]
	for n, s := range subs {
		if s.view == view {
			subs = append(subs[:n:n], subs[n+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(i.viewSubs, topic)
		return
	}
	i.viewSubs[topic] = subs
}

func (i *Island) dropViewSubscriber(view string) {
	for topic := range i.viewSubs {
		i.unsubscribeView(topic, view)
	}
}

func (i *Island) viewHandler(topic, view string) (ViewHandler, bool) {
	for _, s := range i.viewSubs[topic] {
		if s.view == view {
			return s.handler, true
		}
	}
	return nil, false
}

// deliverView calls every view subscriber of topic in registration order.
// The subscriber list is captured first so handlers may (un)subscribe.
func (i *Island) deliverView(ctx *ViewContext, topic string, data any) error {
	subs := append([]viewSub(nil), i.viewSubs[topic]...)
	for _, s := range subs {
		if err := s.handler(ctx, data); err != nil {
			if IsFatal(err) {
				return err
			}
			i.logger.Warn("view handler failed", "island", i.id, "topic", topic, "view", s.view, "error", err)
		}
	}
	return nil
}

// ProcessModelViewEvents drains pending view events in FIFO order, each to
// its subscriber in View realm. It must be called outside any realm,
// typically once per rendered frame. Returns the number delivered.
func (i *Island) ProcessModelViewEvents() (int, error) {
	if err := i.realm.outside(i.id, "ProcessModelViewEvents"); err != nil {
		return 0, err
	}
	if len(i.pendingView) == 0 {
		return 0, nil
	}
	release, epoch, err := i.realm.enter(i.id, RealmView)
	if err != nil {
		return 0, err
	}
	defer release()

	ctx := &ViewContext{island: i, epoch: epoch}
	delivered := 0
	for len(i.pendingView) > 0 {
		ev := i.pendingView[0]
		i.pendingView = i.pendingView[1:]

		h, ok := i.viewHandler(ev.topic, ev.view)
		if !ok {
			continue
		}
		delivered++
		if err := h(ctx, ev.data); err != nil {
			if IsFatal(err) {
				return delivered, err
			}
			i.logger.Warn("view handler failed", "island", i.id, "topic", ev.topic, "view", ev.view, "error", err)
		}
	}
	i.pendingView = nil
	return delivered, nil
}

// PublishFromView enters View realm and publishes a view-to-view event.
func (i *Island) PublishFromView(scope, event string, data any) error {
	return i.View(func(ctx *ViewContext) error {
		return ctx.Publish(scope, event, data)
	})
}
