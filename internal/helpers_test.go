package internal_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHub(t *testing.T, mutate func(cfg *internal.Config), opts internal.HubOptions) *internal.Hub {
	t.Helper()

	cfg := internal.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	hub := internal.NewHub(cfg, opts, testLogger())
	t.Cleanup(hub.Stop)
	return hub
}

// fakeSocket 記錄所有寫出的幀
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	pings  int
	pingAt time.Time // 最後一次 Ping 的寫入期限
	closed bool
	block  chan struct{} // 非 nil 時 WriteMessage 阻塞直到關閉
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("socket closed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, _ []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.PingMessage {
		s.pings++
		s.pingAt = deadline
	}
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) pingDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingAt
}

// messages 解碼所有已寫出的幀
func (s *fakeSocket) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.frames))
	for _, frame := range s.frames {
		var msg map[string]any
		if err := json.Unmarshal(frame, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (s *fakeSocket) count(msgType string) int {
	n := 0
	for _, msg := range s.messages() {
		if msg["type"] == msgType {
			n++
		}
	}
	return n
}

// waitFor 等待第 n 個（從 1 開始）指定類型的訊息
func (s *fakeSocket) waitForNth(t *testing.T, msgType string, n int) map[string]any {
	t.Helper()

	var found map[string]any
	require.Eventually(t, func() bool {
		seen := 0
		for _, msg := range s.messages() {
			if msg["type"] == msgType {
				seen++
				if seen == n {
					found = msg
					return true
				}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "等待 %s 訊息逾時", msgType)
	return found
}

func (s *fakeSocket) waitFor(t *testing.T, msgType string) map[string]any {
	t.Helper()
	return s.waitForNth(t, msgType, 1)
}

// client 一條假連接
type client struct {
	conn *internal.Connection
	sock *fakeSocket
	hub  *internal.Hub
}

func connect(t *testing.T, hub *internal.Hub) *client {
	t.Helper()

	sock := newFakeSocket()
	conn := hub.Connect(sock)
	sock.waitFor(t, internal.TypeConnected)
	return &client{conn: conn, sock: sock, hub: hub}
}

func (c *client) send(t *testing.T, msg map[string]any) {
	t.Helper()

	frame, err := json.Marshal(msg)
	require.NoError(t, err)
	c.hub.Relay().Dispatch(c.conn, frame)
}

func (c *client) findMatch(t *testing.T, id, name string) {
	t.Helper()
	c.send(t, map[string]any{
		"type":   internal.TypeFindMatch,
		"player": map[string]any{"id": id, "name": name, "avatar": "/assets/1.png"},
	})
}

// pair 讓兩個客戶端配對，返回 gameId
func pair(t *testing.T, hub *internal.Hub) (a, b *client, gameID string) {
	t.Helper()

	a = connect(t, hub)
	b = connect(t, hub)

	a.findMatch(t, "alice", "Alice")
	a.sock.waitFor(t, internal.TypeWaiting)
	b.findMatch(t, "bob", "Bob")

	foundA := a.sock.waitFor(t, internal.TypeMatchFound)
	foundB := b.sock.waitFor(t, internal.TypeMatchFound)
	require.Equal(t, foundA["gameId"], foundB["gameId"])

	return a, b, foundA["gameId"].(string)
}

// boardJSON 組出一個盤面 JSON
func boardJSON(pits []int, current int) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"pits":          pits,
		"currentPlayer": current,
		"players": []map[string]any{
			{"name": "Alice", "score": pits[6], "avatar": "/assets/1.png"},
			{"name": "Bob", "score": pits[13], "avatar": "/assets/2.png"},
		},
	})
	return data
}
