package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessagesAfter(t *testing.T) {
	s := createTestSession(t, "room", 5)
	ctx := context.Background()

	msgs, err := s.ReadMessagesAfter(ctx, "room", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(4), msgs[0].Seq)
	assert.Equal(t, uint64(5), msgs[1].Seq)
	assert.Equal(t, int64(50), msgs[1].Time)
}

func TestReadMessagesAfter_EmptyNotNil(t *testing.T) {
	s := createTestSession(t, "room", 2)

	msgs, err := s.ReadMessagesAfter(context.Background(), "room", 2)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	msgs, err = s.ReadMessagesAfter(context.Background(), "other", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagesBetween(t *testing.T) {
	s := createTestSession(t, "room", 10)

	msgs, err := s.MessagesBetween(context.Background(), "room", 25, 60)
	require.NoError(t, err)
	seqs := make([]uint64, len(msgs))
	for i, m := range msgs {
		seqs[i] = m.Seq
	}
	assert.Equal(t, []uint64{3, 4, 5, 6}, seqs)
}

func TestLatestSnapshot(t *testing.T) {
	s := createTestSession(t, "room", 0)
	ctx := context.Background()

	_, ok, err := s.LatestSnapshot(ctx, "room")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, snap := range []Snapshot{
		{SessionID: "room", Seq: 1, Time: 100, Hash: "h1", Body: []byte("{}")},
		{SessionID: "room", Seq: 4, Time: 300, Hash: "h3", Body: []byte("{}")},
		{SessionID: "room", Seq: 2, Time: 200, Hash: "h2", Body: []byte("{}")},
	} {
		require.NoError(t, s.WriteSnapshot(ctx, snap))
	}

	latest, ok, err := s.LatestSnapshot(ctx, "room")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h3", latest.Hash)

	all, err := s.Snapshots(ctx, "room")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"h1", "h2", "h3"}, []string{all[0].Hash, all[1].Hash, all[2].Hash})
}

func TestListSessions(t *testing.T) {
	s := createTestSession(t, "room-b", 3)
	ctx := context.Background()
	require.NoError(t, s.EnsureSession(ctx, "room-a", 5))
	require.NoError(t, s.WriteSnapshot(ctx, Snapshot{SessionID: "room-b", Seq: 3, Time: 30, Hash: "h", Body: []byte("{}")}))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "room-a", sessions[0].ID)
	assert.Equal(t, 0, sessions[0].Messages)
	assert.Equal(t, uint64(0), sessions[0].LastSeq)

	assert.Equal(t, SessionInfo{
		ID:            "room-b",
		CreatedAt:     1700000000000,
		EngineVersion: sessions[1].EngineVersion,
		Messages:      3,
		LastSeq:       3,
		LastTime:      30,
		Snapshots:     1,
	}, sessions[1])
}
