package island

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/island/internal/ir"
)

func TestRealmGuardRefusesNesting(t *testing.T) {
	var g realmGuard

	release, epoch, err := g.enter("room", RealmModel)
	require.NoError(t, err)
	require.NoError(t, g.require("room", RealmModel, epoch))

	for _, r := range []Realm{RealmModel, RealmView} {
		_, _, err := g.enter("room", r)
		require.Error(t, err)
		assert.True(t, IsRealmError(err))
	}

	release()
	assert.Equal(t, RealmNone, g.current)
	assert.Error(t, g.require("room", RealmModel, epoch), "stale after release")

	_, epoch2, err := g.enter("room", RealmModel)
	require.NoError(t, err)
	assert.NotEqual(t, epoch, epoch2)
	assert.Error(t, g.require("room", RealmModel, epoch), "stale epoch rejected after re-entry")
}

func TestLeakedModelContextIsRejected(t *testing.T) {
	isl := New("room", newTestRegistry(t))
	c, _ := setupRoom(t, isl)

	var leaked *ModelContext
	require.NoError(t, isl.Init(func(ctx *ModelContext) error {
		leaked = ctx
		return nil
	}))

	calls := map[string]func() error{
		"future":      func() error { return leaked.Future(0, To(c.ID()), "add", 1) },
		"publish":     func() error { return leaked.Publish(c.ID(), "changed", nil) },
		"subscribe":   func() error { return leaked.Subscribe("a", "b", To(c.ID()), "noted") },
		"unsubscribe": func() error { return leaked.Unsubscribe("a", "b", To(c.ID()), "noted") },
		"destroy":     func() error { return leaked.Destroy(c.ID()) },
		"create": func() error {
			_, err := leaked.Create("counter")
			return err
		},
		"random": func() error {
			_, err := leaked.Random()
			return err
		},
		"random int": func() error {
			_, err := leaked.RandomIntN(4)
			return err
		},
		"lookup": func() error {
			_, err := leaked.Lookup(c.ID())
			return err
		},
	}

	before, err := isl.Snapshot()
	require.NoError(t, err)

	for name, call := range calls {
		t.Run(name+" outside realm", func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, IsRealmError(err))
		})
		t.Run(name+" from view realm", func(t *testing.T) {
			err := isl.View(func(*ViewContext) error { return call() })
			require.Error(t, err)
			assert.True(t, IsRealmError(err))
		})
	}

	after, err := isl.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "no rejected call changed state")
}

func TestLeakedModelContextRejectedInLaterModelRealm(t *testing.T) {
	reg := newTestRegistry(t)
	var leaked *ModelContext
	require.NoError(t, reg.On("sentinel", "useLeaked", Handle(func(ctx *ModelContext, p *sentinel, args Args) error {
		return leaked.Future(0, To(p.ID()), "useLeaked")
	})))

	isl := New("room", reg)
	require.NoError(t, isl.Init(func(ctx *ModelContext) error {
		leaked = ctx
		p, err := ctx.Create("sentinel")
		if err != nil {
			return err
		}
		return ctx.Future(10, To(p.ID()), "useLeaked")
	}))

	err := isl.AdvanceTo(10)
	require.Error(t, err)
	assert.True(t, IsRealmError(err), "fatal error aborts advancement")
}

func TestIslandEntryPointsRejectedInsideModelRealm(t *testing.T) {
	reg := newTestRegistry(t)
	var isl *Island
	var attempt func() error
	require.NoError(t, reg.On("sentinel", "poke", Handle(func(ctx *ModelContext, p *sentinel, args Args) error {
		return attempt()
	})))

	entryPoints := map[string]func() error{
		"advance": func() error { return isl.AdvanceTo(1000) },
		"decode":  func() error { return isl.DecodeScheduleAndExecute(5, 1, "M1..poke[]") },
		"process": func() error {
			_, err := isl.ProcessModelViewEvents()
			return err
		},
		"view": func() error { return isl.View(func(*ViewContext) error { return nil }) },
		"init": func() error { return isl.Init(func(*ModelContext) error { return nil }) },
		"publish view": func() error { return isl.PublishFromView("a", "b", nil) },
		"snapshot": func() error {
			_, err := isl.AsState()
			return err
		},
	}

	for name, fn := range entryPoints {
		t.Run(name, func(t *testing.T) {
			isl = New("room", reg)
			attempt = fn
			require.NoError(t, isl.Init(func(ctx *ModelContext) error {
				p, err := ctx.Create("sentinel")
				if err != nil {
					return err
				}
				return ctx.Future(5, To(p.ID()), "poke")
			}))

			err := isl.AdvanceTo(5)
			require.Error(t, err)
			assert.True(t, IsRealmError(err))
			assert.Equal(t, RealmNone, isl.Realm(), "guard released on the error path")
		})
	}
}

func TestIslandEntryPointsRejectedInsideViewRealm(t *testing.T) {
	isl := New("room", newTestRegistry(t))
	setupRoom(t, isl)

	entryPoints := map[string]func() error{
		"advance": func() error { return isl.AdvanceTo(1000) },
		"decode":  func() error { return isl.DecodeScheduleAndExecute(5, 1, "M1..add[1]") },
		"process": func() error {
			_, err := isl.ProcessModelViewEvents()
			return err
		},
		"init": func() error { return isl.Init(func(*ModelContext) error { return nil }) },
	}

	for name, fn := range entryPoints {
		t.Run(name, func(t *testing.T) {
			err := isl.View(func(*ViewContext) error { return fn() })
			require.Error(t, err)
			assert.True(t, IsRealmError(err))
			assert.Equal(t, RealmNone, isl.Realm())
		})
	}
	assert.Equal(t, int64(0), isl.Time())
}

func TestLeakedViewContextIsRejected(t *testing.T) {
	isl := New("room", newTestRegistry(t))
	c, _ := setupRoom(t, isl)

	var leaked *ViewContext
	require.NoError(t, isl.View(func(ctx *ViewContext) error {
		leaked = ctx
		return nil
	}))

	_, err := leaked.AttachView()
	assert.True(t, IsRealmError(err))
	assert.True(t, IsRealmError(leaked.Publish("a", "b", nil)))
	assert.True(t, IsRealmError(leaked.Send(To(c.ID()), "add", 1)))

	err = isl.Init(func(*ModelContext) error {
		return leaked.Send(To(c.ID()), "add", 1)
	})
	assert.True(t, IsRealmError(err), "view capability is useless in model realm")
}

func TestViewReadsCannotChangeModelState(t *testing.T) {
	isl := New("room", newTestRegistry(t))
	c, _ := setupRoom(t, isl)
	require.NoError(t, isl.Init(func(ctx *ModelContext) error {
		return ctx.Future(1, To(c.ID()), "add", 7)
	}))
	require.NoError(t, isl.AdvanceTo(1))

	before, err := isl.Hash()
	require.NoError(t, err)

	require.NoError(t, isl.View(func(ctx *ViewContext) error {
		kind, err := ctx.Kind(c.ID())
		require.NoError(t, err)
		assert.Equal(t, "counter", kind)

		st, err := ctx.State(c.ID())
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(7), st["count"])
		st["count"] = ir.IRInt(999)
		st["seen"] = append(st["seen"].(ir.IRArray), ir.IRInt(1))

		again, err := ctx.State(c.ID())
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(7), again["count"])

		_, err = ctx.State("M404")
		assert.Error(t, err)
		_, err = ctx.Kind("M404")
		assert.Error(t, err)
		return nil
	}))

	after, err := isl.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "writes to a view copy never reach the island")
	assert.Equal(t, int64(7), c.count)

	var leaked *ViewContext
	require.NoError(t, isl.View(func(ctx *ViewContext) error {
		leaked = ctx
		return nil
	}))
	_, err = leaked.State(c.ID())
	assert.True(t, IsRealmError(err))
	_, err = leaked.Kind(c.ID())
	assert.True(t, IsRealmError(err))
}

func TestViewSendGoesThroughSender(t *testing.T) {
	sender := &recordingSender{}
	isl := New("room", newTestRegistry(t), WithSender(sender))
	c, _ := setupRoom(t, isl)

	require.NoError(t, isl.View(func(ctx *ViewContext) error {
		return ctx.Send(To(c.ID()), "add", 3)
	}))

	assert.Equal(t, []string{"M1..add[3]"}, sender.payloads)
	assert.Zero(t, c.count, "model unchanged until the reflected copy arrives")

	err := isl.View(func(ctx *ViewContext) error {
		return ctx.Send(To(c.ID()), "nope")
	})
	require.Error(t, err)
	assert.Len(t, sender.payloads, 1)
}

func TestViewSendWithoutSender(t *testing.T) {
	isl := New("room", newTestRegistry(t))
	c, _ := setupRoom(t, isl)

	err := isl.View(func(ctx *ViewContext) error {
		return ctx.Send(To(c.ID()), "add", 3)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sender")
}
