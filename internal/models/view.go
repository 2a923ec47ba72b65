package models

import (
	"log/slog"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
)

// ViewEvent is one event delivered to a Watcher.
type ViewEvent struct {
	View  string `json:"view" yaml:"view"`
	Topic string `json:"topic" yaml:"topic"`
	Time  int64  `json:"time" yaml:"time"`
	Data  string `json:"data" yaml:"data"`
}

// Watcher is a view that records the events it receives and optionally
// logs them. It re-attaches itself to each island the controller installs.
type Watcher struct {
	Topics [][2]string // (scope, event) pairs
	Logger *slog.Logger

	view   string
	events []ViewEvent
}

// NewRoomWatcher watches the counter and ticker created by InitRoom.
func NewRoomWatcher(logger *slog.Logger) *Watcher {
	return &Watcher{
		Topics: [][2]string{{"M1", EventChanged}, {"M2", EventTick}},
		Logger: logger,
	}
}

// Attach attaches a new view to isl and subscribes it to every topic.
func (w *Watcher) Attach(isl *island.Island) error {
	return isl.View(func(ctx *island.ViewContext) error {
		id, err := ctx.AttachView()
		if err != nil {
			return err
		}
		w.view = id
		for _, t := range w.Topics {
			topic := island.Topic(t[0], t[1])
			if err := ctx.Subscribe(t[0], t[1], id, func(ctx *island.ViewContext, data any) error {
				w.record(ctx, id, topic, data)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Watcher) record(ctx *island.ViewContext, view, topic string, data any) {
	e := ViewEvent{View: view, Topic: topic, Time: ctx.Now()}
	if b, err := ir.MarshalCanonical(data); err == nil {
		e.Data = string(b)
	}
	w.events = append(w.events, e)
	if w.Logger != nil {
		w.Logger.Info("view event", "view", view, "topic", topic, "time", e.Time, "data", e.Data)
	}
}

// View returns the id of the current view, or "" before Attach.
func (w *Watcher) View() string { return w.view }

// Events returns the events recorded so far.
func (w *Watcher) Events() []ViewEvent {
	return append([]ViewEvent(nil), w.events...)
}
