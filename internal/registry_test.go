package internal_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
)

// TestRegistry_UniqueIDs 併發註冊的連接 ID 互不相同
func TestRegistry_UniqueIDs(t *testing.T) {
	registry := internal.NewRegistry(8, time.Second, testLogger())

	const n = 200
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- registry.Register(newFakeSocket()).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "重複的連接 ID: %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, registry.Count())
}

// TestRegistry_FindByPlayerID 同一玩家多條連接時取最新的
func TestRegistry_FindByPlayerID(t *testing.T) {
	hub := newTestHub(t, nil, internal.HubOptions{})

	old := connect(t, hub)
	old.conn.SetPlayerID("alice")
	time.Sleep(2 * time.Millisecond)
	latest := connect(t, hub)
	latest.conn.SetPlayerID("alice")

	found, ok := hub.Registry().FindByPlayerID("alice")
	require.True(t, ok)
	assert.Equal(t, latest.conn.ID, found.ID)

	hub.Disconnect(latest.conn)
	found, ok = hub.Registry().FindByPlayerID("alice")
	require.True(t, ok)
	assert.Equal(t, old.conn.ID, found.ID)

	_, ok = hub.Registry().FindByPlayerID("")
	assert.False(t, ok)
	_, ok = hub.Registry().FindByPlayerID("nobody")
	assert.False(t, ok)
}

// TestRegistry_Send 測試發送失敗的情況
func TestRegistry_Send(t *testing.T) {
	hub := newTestHub(t, nil, internal.HubOptions{})
	c := connect(t, hub)

	require.NoError(t, hub.Registry().Send(c.conn.ID, map[string]string{"type": "PING_TEST"}))
	c.sock.waitFor(t, "PING_TEST")

	err := hub.Registry().Send("conn_unknown", map[string]string{"type": "X"})
	assert.True(t, errors.Is(err, internal.ErrSendFailure))

	hub.Disconnect(c.conn)
	err = c.conn.Send(map[string]string{"type": "X"})
	assert.ErrorIs(t, err, internal.ErrSendFailure)
	assert.Equal(t, internal.CodeSendFailure, internal.ErrorCode(err))

	_, ok := hub.Registry().Get(c.conn.ID)
	assert.False(t, ok)
}

// TestRegistry_SendBufferFull 慢客戶端的緩衝滿時丟棄
func TestRegistry_SendBufferFull(t *testing.T) {
	registry := internal.NewRegistry(2, time.Second, testLogger())

	sock := newFakeSocket()
	sock.block = make(chan struct{})
	defer close(sock.block)

	conn := registry.Register(sock)

	// writePump 取走一則後阻塞，緩衝再放兩則，之後必定失敗
	var failed error
	for i := 0; i < 10 && failed == nil; i++ {
		failed = conn.Send(map[string]int{"seq": i})
	}
	require.Error(t, failed)
	assert.ErrorIs(t, failed, internal.ErrSendFailure)
}

// TestRegistry_ForEachOpen 只遍歷存活連接
func TestRegistry_ForEachOpen(t *testing.T) {
	hub := newTestHub(t, nil, internal.HubOptions{})

	a := connect(t, hub)
	b := connect(t, hub)
	hub.Disconnect(a.conn)

	var visited []string
	hub.Registry().ForEachOpen(func(conn *internal.Connection) {
		visited = append(visited, conn.ID)
	})

	assert.Equal(t, []string{b.conn.ID}, visited)
}
