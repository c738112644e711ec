package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreIndexesParticipants(t *testing.T) {
	f := newFixture(t, Options{})
	f.pair(t, "g1")

	s, ok := f.store.ByParticipant("u2")
	require.True(t, ok)
	assert.Equal(t, "g1", s.ID)
	assert.Equal(t, 1, f.store.Count())

	ids, err := f.store.SnapshotIDsForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)
	assert.Greater(t, f.mr.TTL(gameKey("g1")), time.Duration(0))

	f.store.Remove(context.Background(), "g1")
	_, ok = f.store.ByParticipant("u2")
	assert.False(t, ok)
	assert.False(t, f.mr.Exists(gameKey("g1")))
	for _, u := range []string{"u1", "u2"} {
		ids, err := f.store.SnapshotIDsForUser(context.Background(), u)
		require.NoError(t, err)
		assert.Empty(t, ids, u)
		assert.False(t, f.mr.Exists(idxUserKey(u)))
	}
}

func TestStoreWithoutRedis(t *testing.T) {
	st := NewStore(nil, 0)
	s := NewSession(SessionParams{ID: "g1", White: PlayerRef{UserID: "a"}, Black: PlayerRef{UserID: "b"}, TimeControl: 60})
	st.Add(context.Background(), s)

	snap, err := st.LoadSnapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	_, err = st.Restore(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	got, ok := st.Get(" g1 ")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRestoreSkipsTerminated(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.pair(t, "g1")
	s.Lock()
	s.State = StateTerminated
	f.store.Mirror(context.Background(), s)
	s.Unlock()

	fresh := NewStore(f.rdb, time.Hour)
	_, err := fresh.Restore(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
