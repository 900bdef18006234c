package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, c Command) []byte {
	t.Helper()
	payload, err := Encode(c)
	require.NoError(t, err)
	return payload
}

func TestApplySetAndDelete(t *testing.T) {
	s := New()

	res, err := s.Apply(mustEncode(t, Command{Op: OpSet, Key: "k", Value: []byte("v1")}))
	require.NoError(t, err)
	assert.False(t, res.Existed)

	res, err = s.Apply(mustEncode(t, Command{Op: OpSet, Key: "k", Value: []byte("v2")}))
	require.NoError(t, err)
	assert.True(t, res.Existed)
	assert.Equal(t, []byte("v1"), res.PreviousValue)

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	res, err = s.Apply(mustEncode(t, Command{Op: OpDelete, Key: "k"}))
	require.NoError(t, err)
	assert.True(t, res.Existed)

	_, ok = s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestApplyRejectsGarbagePayload(t *testing.T) {
	s := New()
	_, err := s.Apply([]byte("not a gob stream"))
	assert.Error(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	for _, kv := range []struct{ k, v string }{
		{"alpha", "1"}, {"beta", "2"}, {"gamma", "3"},
	} {
		_, err := s.Apply(mustEncode(t, Command{Op: OpSet, Key: kv.k, Value: []byte(kv.v)}))
		require.NoError(t, err)
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)

	restored := New()
	_, err = restored.Apply(mustEncode(t, Command{Op: OpSet, Key: "stale", Value: []byte("gone after restore")}))
	require.NoError(t, err)

	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, 3, restored.Len())
	_, ok := restored.Get("stale")
	assert.False(t, ok)
	v, ok := restored.Get("beta")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestRestoreEmptySnapshotClearsStore(t *testing.T) {
	s := New()
	_, err := s.Apply(mustEncode(t, Command{Op: OpSet, Key: "k", Value: []byte("v")}))
	require.NoError(t, err)

	require.NoError(t, s.Restore(nil))
	assert.Equal(t, 0, s.Len())
}
