package internal_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
	"github.com/koopa0/system-design/14-kalah-relay/internal/testutils"
)

// TestRedisSnapshotter Redis 鏡像整合測試
func TestRedisSnapshotter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testutils.SetupRedis(t)
	ctx := context.Background()

	mirror := internal.NewRedisSnapshotter(client, "test:match:", time.Hour, time.Second, 16, testutils.Logger())
	defer mirror.Stop()

	t.Run("save and load", func(t *testing.T) {
		state := json.RawMessage(`{"pits":[4,4,0,5,5,5,1,4,4,4,4,4,4,0],"currentPlayer":0}`)
		mirror.Save(internal.MatchSnapshot{GameID: "game_1", GameState: state, UpdatedAt: time.Now()})

		var snap internal.MatchSnapshot
		require.Eventually(t, func() bool {
			var err error
			snap, err = mirror.Load(ctx, "game_1")
			return err == nil
		}, 2*time.Second, 10*time.Millisecond)

		assert.Equal(t, "game_1", snap.GameID)
		assert.JSONEq(t, string(state), string(snap.GameState))
		assert.False(t, snap.Completed)
	})

	t.Run("later save wins", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			mirror.Save(internal.MatchSnapshot{
				GameID:    "game_2",
				GameState: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
				Completed: i == 4,
			})
		}

		require.Eventually(t, func() bool {
			snap, err := mirror.Load(ctx, "game_2")
			return err == nil && snap.Completed
		}, 2*time.Second, 10*time.Millisecond)

		snap, err := mirror.Load(ctx, "game_2")
		require.NoError(t, err)
		assert.JSONEq(t, `{"seq":4}`, string(snap.GameState))
	})

	t.Run("key carries ttl", func(t *testing.T) {
		ttl, err := client.TTL(ctx, mirror.Key("game_1")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 59*time.Minute)
		assert.LessOrEqual(t, ttl, time.Hour)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := mirror.Load(ctx, "game_missing")
		assert.ErrorIs(t, err, internal.ErrMatchNotFound)
	})
}

// TestRedisSnapshotter_StopDrains 停止時寫完隊列
func TestRedisSnapshotter_StopDrains(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testutils.SetupRedis(t)
	ctx := context.Background()

	mirror := internal.NewRedisSnapshotter(client, "drain:", time.Hour, time.Second, 64, testutils.Logger())
	for _, id := range []string{"g1", "g2", "g3"} {
		mirror.Save(internal.MatchSnapshot{GameID: id, GameState: json.RawMessage(`null`)})
	}
	mirror.Stop()

	n, err := client.Exists(ctx, "drain:g1", "drain:g2", "drain:g3").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// 停止後的 Save 不阻塞
	done := make(chan struct{})
	go func() {
		mirror.Save(internal.MatchSnapshot{GameID: "late"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Save blocked after Stop")
	}
}

// TestHub_RedisMirror 重啟後從 Redis 同步盤面
func TestHub_RedisMirror(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testutils.SetupRedis(t)
	mirror := internal.NewRedisSnapshotter(client, "kalah:match:", time.Hour, time.Second, 64, testutils.Logger())
	defer mirror.Stop()

	first := newTestHub(t, nil, internal.HubOptions{Mirror: mirror})
	a, _, gameID := pair(t, first)

	state := boardJSON([]int{4, 4, 0, 5, 5, 5, 1, 4, 4, 4, 4, 4, 4, 0}, 0)
	a.send(t, map[string]any{"type": internal.TypeGameMove, "gameId": gameID, "move": 2, "gameState": state})

	require.Eventually(t, func() bool {
		snap, err := mirror.Load(context.Background(), gameID)
		return err == nil && len(snap.GameState) > 0 && string(snap.GameState) != "null"
	}, 2*time.Second, 10*time.Millisecond)

	// 新的進程：內存中沒有這局
	second := newTestHub(t, nil, internal.HubOptions{Mirror: mirror})
	c := connect(t, second)
	c.send(t, map[string]any{"type": internal.TypeSyncGame, "gameId": gameID})

	msg := c.sock.waitFor(t, internal.TypeGameState)
	assert.Equal(t, decoded(t, state), msg["gameState"])
}
