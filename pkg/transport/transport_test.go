package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raft"
)

func TestSendDeliversToPeerRecv(t *testing.T) {
	a := New("a")
	b := New("b")
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()
	defer a.Close()

	msg := raft.Message{
		Type: raft.MsgAppendEntries,
		Term: 3,
		AppendEntries: &raft.AppendEntriesMessage{
			Term: 3, LeaderID: "a", PrevIndex: 1, PrevTerm: 2,
			Entries:      []raft.Entry{{Term: 3, Index: 2, Kind: raft.EntryCommand, Payload: []byte("x")}},
			LeaderCommit: 1,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, "b", b.listener.Addr().String(), msg))

	select {
	case got := <-b.Recv():
		assert.Equal(t, "a", got.From)
		assert.Equal(t, raft.MsgAppendEntries, got.Message.Type)
		require.NotNil(t, got.Message.AppendEntries)
		assert.Equal(t, msg.AppendEntries.Entries, got.Message.AppendEntries.Entries)
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestSendReusesConnectionPerAddress(t *testing.T) {
	a := New("a")
	b := New("b")
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()
	defer a.Close()

	addr := b.listener.Addr().String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(ctx, "b", addr, raft.Message{
			Type: raft.MsgTimeoutNow, Term: 1, TimeoutNow: &raft.TimeoutNowMessage{Term: 1},
		}))
	}
	a.mu.Lock()
	assert.Len(t, a.conns, 1)
	a.mu.Unlock()
	for i := 0; i < 3; i++ {
		<-b.Recv()
	}
}
