package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/models"
	"github.com/roach88/island/internal/store"
)

const room = "room"

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// recordSession stores a short session with two checkpoints in a new
// database and returns its path and the live island.
func recordSession(t *testing.T) (string, *island.Island) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "island.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.EnsureSession(ctx, room, 0))

	reg, err := models.NewRegistry()
	require.NoError(t, err)
	isl := island.New(room, reg)
	require.NoError(t, isl.Init(models.InitRoom))

	checkpoint := func(at int64) {
		require.NoError(t, isl.AdvanceTo(at))
		body, err := isl.Snapshot()
		require.NoError(t, err)
		hash, err := isl.Hash()
		require.NoError(t, err)
		require.NoError(t, st.WriteSnapshot(ctx, store.Snapshot{
			SessionID: room, Seq: isl.ExternalSeq(), Time: isl.Time(), Hash: hash, Body: body,
		}))
	}
	send := func(seq uint64, at int64, payload string) {
		require.NoError(t, st.WriteMessage(ctx, store.Message{SessionID: room, Seq: seq, Time: at, Payload: payload}))
		require.NoError(t, isl.DecodeScheduleAndExecute(at, seq, payload))
	}

	checkpoint(0)
	send(1, 40, "M1..add[2]")
	send(2, 70, "M3..wander[]")
	checkpoint(150)
	return path, isl
}
