package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
)

func newRoom(t *testing.T) *island.Island {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	isl := island.New("room", reg)
	require.NoError(t, isl.Init(InitRoom))
	return isl
}

func model[T island.Model](t *testing.T, isl *island.Island, id string) T {
	t.Helper()
	kind, ok := isl.ModelKind(id)
	require.True(t, ok, "model %s", id)
	st, err := isl.ModelState(id)
	require.NoError(t, err)
	m, err := isl.Registry().Decode(kind, id, st)
	require.NoError(t, err)
	typed, ok := m.(T)
	require.True(t, ok, "model %s has type %T", id, m)
	return typed
}

type recordingSender struct {
	payloads []string
}

func (s *recordingSender) Send(payload string) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := island.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg))
	assert.Equal(t, []string{KindCounter, KindMover, KindTicker}, reg.Kinds())
}

func TestInitRoomCreatesModelsInOrder(t *testing.T) {
	isl := newRoom(t)

	assert.Equal(t, []string{"M1", "M2", "M3"}, isl.ModelIDs())
	model[*Counter](t, isl, "M1")
	model[*Ticker](t, isl, "M2")
	m := model[*Mover](t, isl, "M3")
	assert.Equal(t, Identity, m.Spatial.Rotation)
	assert.Equal(t, 1, isl.QueueLen(), "first ticker step is scheduled")
}

func TestCounterAddDrivesFollower(t *testing.T) {
	isl := newRoom(t)

	require.NoError(t, isl.DecodeScheduleAndExecute(10, 1, "M1..add[5]"))
	require.NoError(t, isl.DecodeScheduleAndExecute(20, 2, "M1..add[-2]"))

	assert.Equal(t, int64(3), model[*Counter](t, isl, "M1").Count)
	assert.Equal(t, 3.0, model[*Mover](t, isl, "M3").Spatial.Position.X)

	require.NoError(t, isl.DecodeScheduleAndExecute(30, 3, "M1..reset[]"))
	assert.Equal(t, int64(0), model[*Counter](t, isl, "M1").Count)
	assert.Equal(t, 0.0, model[*Mover](t, isl, "M3").Spatial.Position.X)
}

func TestTickerSteps(t *testing.T) {
	isl := newRoom(t)

	require.NoError(t, isl.AdvanceTo(100))

	tk := model[*Ticker](t, isl, "M2")
	assert.Equal(t, int64(3), tk.Steps)
	assert.Equal(t, int64(99), tk.Last)
	assert.Positive(t, tk.Value)
}

func TestTickerIsDeterministic(t *testing.T) {
	a, b := newRoom(t), newRoom(t)
	require.NoError(t, a.AdvanceTo(1000))
	for ts := int64(50); ts <= 1000; ts += 50 {
		require.NoError(t, b.AdvanceTo(ts))
	}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestSpatialTranscoders(t *testing.T) {
	isl := newRoom(t)

	require.NoError(t, isl.DecodeScheduleAndExecute(10, 1, "M3.spatial.moveTo[1.0,2.0,3.0]"))
	require.NoError(t, isl.DecodeScheduleAndExecute(20, 2, "M3.spatial.nudge[0.5,0.0,-1.0]"))
	require.NoError(t, isl.DecodeScheduleAndExecute(30, 3, "M3.spatial.rotateTo[0.0,1.0,0.0,0.0]"))

	s := model[*Mover](t, isl, "M3").Spatial
	assert.Equal(t, Vec3{1.5, 2, 2}, s.Position)
	assert.Equal(t, Quat{0, 1, 0, 0}, s.Rotation)
}

func TestSpatialDecodeRejectsWrongWidth(t *testing.T) {
	isl := newRoom(t)

	err := isl.DecodeScheduleAndExecute(10, 1, "M3.spatial.moveTo[1.0,2.0]")
	require.Error(t, err)
	assert.True(t, island.IsDecodeError(err))
	assert.Equal(t, int64(10), isl.Time(), "time still advances")
}

func TestViewSendEncodesWithTranscoder(t *testing.T) {
	isl := newRoom(t)
	sender := &recordingSender{}
	isl.SetSender(sender)

	require.NoError(t, isl.View(func(ctx *island.ViewContext) error {
		if err := ctx.Send(island.To("M3", PartSpatial), "moveTo", Vec3{1, 2, 3}); err != nil {
			return err
		}
		return ctx.Send(island.To("M3", PartSpatial), "rotateTo", Quat{W: 1})
	}))

	assert.Equal(t, []string{
		"M3.spatial.moveTo[1.0,2.0,3.0]",
		"M3.spatial.rotateTo[0.0,0.0,0.0,1.0]",
	}, sender.payloads)
}

func TestViewSendRejectsWrongArgumentType(t *testing.T) {
	isl := newRoom(t)
	isl.SetSender(&recordingSender{})

	err := isl.View(func(ctx *island.ViewContext) error {
		return ctx.Send(island.To("M3", PartSpatial), "moveTo", Quat{W: 1})
	})
	require.Error(t, err)
	assert.True(t, island.IsDecodeError(err))
}

func TestWanderIsReplicated(t *testing.T) {
	a, b := newRoom(t), newRoom(t)
	for _, isl := range []*island.Island{a, b} {
		require.NoError(t, isl.DecodeScheduleAndExecute(40, 1, "M3..wander[]"))
		require.NoError(t, isl.DecodeScheduleAndExecute(80, 2, "M3..wander[]"))
	}

	pa := model[*Mover](t, a, "M3").Spatial.Position
	pb := model[*Mover](t, b, "M3").Spatial.Position
	assert.Equal(t, pa, pb)
	assert.NotEqual(t, Vec3{}, pa)
	assert.Zero(t, pa.Y)
}

func TestSnapshotRoundTrip(t *testing.T) {
	isl := newRoom(t)
	require.NoError(t, isl.DecodeScheduleAndExecute(10, 1, "M1..add[7]"))
	require.NoError(t, isl.DecodeScheduleAndExecute(20, 2, "M3.spatial.moveTo[4.0,5.0,6.0]"))
	require.NoError(t, isl.AdvanceTo(500))

	st, err := isl.AsState()
	require.NoError(t, err)
	restored, err := island.FromState(isl.Registry(), st)
	require.NoError(t, err)

	want, err := isl.Hash()
	require.NoError(t, err)
	got, err := restored.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Both continue identically, including the follow subscription.
	for _, r := range []*island.Island{isl, restored} {
		require.NoError(t, r.DecodeScheduleAndExecute(600, 3, "M1..add[1]"))
		require.NoError(t, r.AdvanceTo(1000))
	}
	want, _ = isl.Hash()
	got, _ = restored.Hash()
	assert.Equal(t, want, got)
	assert.Equal(t, 8.0, model[*Mover](t, restored, "M3").Spatial.Position.X)
}

func TestWatcherRecordsRoomEvents(t *testing.T) {
	isl := newRoom(t)
	w := NewRoomWatcher(nil)
	require.NoError(t, w.Attach(isl))
	assert.Equal(t, "V1", w.View())

	require.NoError(t, isl.DecodeScheduleAndExecute(40, 1, "M1..add[2]"))
	_, err := isl.ProcessModelViewEvents()
	require.NoError(t, err)

	events := w.Events()
	require.Len(t, events, 2)
	assert.Equal(t, ViewEvent{View: "V1", Topic: "M2:tick", Time: 40, Data: `{"steps":1,"time":33}`}, events[0])
	assert.Equal(t, ViewEvent{View: "V1", Topic: "M1:changed", Time: 40, Data: "2"}, events[1])
}

func TestMoverRejectsMalformedState(t *testing.T) {
	m := newMover().(*Mover)
	err := m.UnmarshalState(ir.NewIRObject(ir.O("position", ir.IRArray{ir.IRFloat(1)})))
	assert.Error(t, err)
}
