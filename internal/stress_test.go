package internal_test

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
)

// TestStress_ConcurrentMatchmaking 大量玩家同時尋找對手
func TestStress_ConcurrentMatchmaking(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	hub := newTestHub(t, nil, internal.HubOptions{})

	const numPlayers = 200

	clients := make([]*client, numPlayers)
	for i := range clients {
		clients[i] = connect(t, hub)
	}

	start := time.Now()

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(idx int, c *client) {
			defer wg.Done()
			c.findMatch(t, fmt.Sprintf("player_%d", idx), fmt.Sprintf("玩家%d", idx))
		}(i, c)
	}
	wg.Wait()

	duration := time.Since(start)

	// 每個玩家恰好收到一次 MATCH_FOUND
	gameIDs := make(map[string]int)
	require.Eventually(t, func() bool {
		for _, c := range clients {
			if c.sock.count(internal.TypeMatchFound) != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	for _, c := range clients {
		msg := c.sock.waitFor(t, internal.TypeMatchFound)
		gameIDs[msg["gameId"].(string)]++
	}

	t.Logf("併發配對壓力測試結果:")
	t.Logf("  玩家數: %d", numPlayers)
	t.Logf("  對局數: %d", len(gameIDs))
	t.Logf("  耗時: %v", duration)

	assert.Len(t, gameIDs, numPlayers/2)
	for gameID, n := range gameIDs {
		assert.Equal(t, 2, n, "對局 %s 的參與者數量", gameID)
	}
	assert.False(t, hub.Stats().Waiting)
	assert.Equal(t, numPlayers/2, hub.Store().Len())
}

// TestStress_ConcurrentMoves 多局同時中繼走步
func TestStress_ConcurrentMoves(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	hub := newTestHub(t, func(cfg *internal.Config) {
		cfg.Relay.SendBuffer = 1024
	}, internal.HubOptions{})

	const (
		numMatches    = 50
		movesPerMatch = 40
	)

	type game struct {
		a, b   *client
		gameID string
	}
	games := make([]game, numMatches)
	for i := range games {
		a, b, gameID := pair(t, hub)
		games[i] = game{a: a, b: b, gameID: gameID}
	}

	var (
		wg    sync.WaitGroup
		moves int32
	)

	start := time.Now()

	for _, g := range games {
		wg.Add(1)
		go func(g game) {
			defer wg.Done()
			for j := 0; j < movesPerMatch; j++ {
				mover := g.a
				if j%2 == 1 {
					mover = g.b
				}
				mover.send(t, map[string]any{
					"type":      internal.TypeGameMove,
					"gameId":    g.gameID,
					"move":      rand.Intn(6),
					"gameState": map[string]any{"seq": j},
				})
				atomic.AddInt32(&moves, 1)
			}
		}(g)
	}
	wg.Wait()

	duration := time.Since(start)

	for _, g := range games {
		g.a.sock.waitForNth(t, internal.TypeOpponentMove, movesPerMatch/2)
		g.b.sock.waitForNth(t, internal.TypeOpponentMove, movesPerMatch/2)
	}

	t.Logf("併發走步壓力測試結果:")
	t.Logf("  總走步數: %d", moves)
	t.Logf("  耗時: %v", duration)
	t.Logf("  速率: %.2f moves/sec", float64(moves)/duration.Seconds())

	// 每局保存的是最後一步的盤面
	for _, g := range games {
		m, ok := hub.Store().Get(g.gameID)
		require.True(t, ok)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, movesPerMatch-1), string(m.State()))
	}
}

// TestStress_ConnectDisconnect 連接與斷開交錯不會留下殘留狀態
func TestStress_ConnectDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	hub := newTestHub(t, nil, internal.HubOptions{})

	const (
		numWorkers = 50
		rounds     = 20
	)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				sock := newFakeSocket()
				conn := hub.Connect(sock)
				c := &client{conn: conn, sock: sock, hub: hub}
				c.findMatch(t, fmt.Sprintf("player_%d_%d", worker, j), "玩家")

				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				hub.Disconnect(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Registry().Count())
	assert.False(t, hub.Stats().Waiting, "斷開的連接不能留在等待隊列")
}

// BenchmarkRelay_GameMove 基準測試：中繼走步
func BenchmarkRelay_GameMove(b *testing.B) {
	hub := internal.NewHub(internal.DefaultConfig(), internal.HubOptions{}, testLogger())
	defer hub.Stop()

	a := hub.Connect(newFakeSocket())
	o := hub.Connect(newFakeSocket())
	hub.Matchmaker().FindMatch(a, internal.PlayerInfo{ID: "alice"})
	m := hub.Matchmaker().FindMatch(o, internal.PlayerInfo{ID: "bob"})
	if m == nil {
		b.Fatal("配對失敗")
	}

	frame := []byte(fmt.Sprintf(`{"type":"GAME_MOVE","gameId":%q,"move":2,"gameState":{"pits":[4,4,0,5,5,5,1,4,4,4,4,4,4,0]}}`, m.ID))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Relay().Dispatch(a, frame)
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "moves/sec")
}

// BenchmarkDecodeInbound 基準測試：解析入站訊息
func BenchmarkDecodeInbound(b *testing.B) {
	frame := []byte(`{"type":"GAME_MOVE","gameId":"game_1","move":3,"gameState":{"pits":[4,4,4,0,5,5,1,5,4,4,4,4,4,0],"currentPlayer":1}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := internal.DecodeInbound(frame); err != nil {
			b.Fatal(err)
		}
	}
}
