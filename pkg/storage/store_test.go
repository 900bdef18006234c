package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raft"
)

// stores returns one of each Store implementation so every test runs
// against both behind the same interface.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	bs, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bs,
	}
}

func TestAppendGetReleaseEntries(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			entries := []raft.Entry{
				{Term: 1, Index: 1, Kind: raft.EntryCommand, Payload: []byte("a")},
				{Term: 1, Index: 2, Kind: raft.EntryBarrier},
				{Term: 2, Index: 3, Kind: raft.EntryCommand, Payload: []byte("c")},
			}
			require.NoError(t, s.AppendEntries(entries))

			got, err := s.GetEntries(1, 3)
			require.NoError(t, err)
			assert.Equal(t, entries, got)

			got, err = s.GetEntries(2, 2)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, raft.Index(2), got[0].Index)

			require.NoError(t, s.ReleaseEntries(1, 2))
			got, err = s.GetEntries(1, 3)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, raft.Index(3), got[0].Index)
		})
	}
}

func TestSaveLoadTermAndVote(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			term, voted, err := s.LoadTermAndVote()
			require.NoError(t, err)
			assert.Equal(t, raft.Term(0), term)
			assert.Empty(t, voted)

			require.NoError(t, s.SaveTermAndVote(7, "node-2"))
			term, voted, err = s.LoadTermAndVote()
			require.NoError(t, err)
			assert.Equal(t, raft.Term(7), term)
			assert.Equal(t, "node-2", voted)
		})
	}
}

func TestSnapshotChunksAndMeta(t *testing.T) {
	cfg := raft.NewConfiguration([]raft.Server{
		{ID: "a", Address: "127.0.0.1:7000", Role: raft.RoleVoter},
		{ID: "b", Address: "127.0.0.1:7001", Role: raft.RoleStandby},
	})
	meta := SnapshotMeta{LastIndex: 42, LastTerm: 3, Configuration: cfg}

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, ok, err := s.LoadSnapshotChunk(0)
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = s.LoadSnapshotMeta()
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SaveSnapshotChunk(0, []byte("chunk0"), false, SnapshotMeta{}))
			require.NoError(t, s.SaveSnapshotChunk(1, []byte("chunk1"), true, meta))

			data, isLast, ok, err := s.LoadSnapshotChunk(0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.False(t, isLast)
			assert.Equal(t, []byte("chunk0"), data)

			data, isLast, ok, err = s.LoadSnapshotChunk(1)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, isLast)
			assert.Equal(t, []byte("chunk1"), data)

			loaded, ok, err := s.LoadSnapshotMeta()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, raft.Index(42), loaded.LastIndex)
			assert.Equal(t, raft.Term(3), loaded.LastTerm)
			assert.ElementsMatch(t, []string{"a"}, loaded.Configuration.Voters())
		})
	}
}

func TestSaveGetCA(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetCA()
			assert.Error(t, err)

			require.NoError(t, s.SaveCA([]byte(`{"cert":"pem"}`)))
			data, err := s.GetCA()
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"cert":"pem"}`), data)
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveTermAndVote(5, "node-1"))
	require.NoError(t, s.AppendEntries([]raft.Entry{{Term: 5, Index: 1, Payload: []byte("x")}}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	term, voted, err := s.LoadTermAndVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Term(5), term)
	assert.Equal(t, "node-1", voted)

	entries, err := s.GetEntries(1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("x"), entries[0].Payload)
}
