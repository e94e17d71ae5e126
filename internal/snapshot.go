package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MatchSnapshot 對局的可持久化鏡像
type MatchSnapshot struct {
	GameID    string          `json:"gameId"`
	GameState json.RawMessage `json:"gameState"`
	Completed bool            `json:"completed"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// StateMirror 對局盤面的外部鏡像
//
// Save 必須非阻塞（會在對局鎖內呼叫）；Load 找不到時返回 ErrMatchNotFound。
type StateMirror interface {
	Save(snap MatchSnapshot)
	Load(ctx context.Context, gameID string) (MatchSnapshot, error)
}

// RedisSnapshotter 以 Redis 鏡像對局盤面
//
// 系統設計考量：
//
//  1. 為什麼需要鏡像？
//     內存是權威存儲，但進程重啟後對局全部消失；
//     客戶端重連時的 SYNC_GAME 可以從 Redis 取回最後的盤面。
//
//  2. 為什麼是單一背景寫入者？
//     走步轉發不能等待 Redis 往返。Save 只把快照放入有界隊列，
//     背景 goroutine 依序寫入，保證同一局的寫入順序。
//     隊列滿時丟棄並記錄（鏡像是盡力而為）。
//
//  3. 過期：
//     每個 key 帶 TTL，與內存的保留期一致，無需額外清理。
type RedisSnapshotter struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	queue   chan MatchSnapshot
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRedisSnapshotter 創建鏡像並啟動背景寫入
func NewRedisSnapshotter(client *redis.Client, prefix string, ttl, timeout time.Duration, queueSize int, logger *slog.Logger) *RedisSnapshotter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	s := &RedisSnapshotter{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: timeout,
		queue:   make(chan MatchSnapshot, queueSize),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s
}

// Key 對局在 Redis 中的 key
func (s *RedisSnapshotter) Key(gameID string) string {
	return s.prefix + gameID
}

// Save 非阻塞入隊
func (s *RedisSnapshotter) Save(snap MatchSnapshot) {
	select {
	case <-s.stopCh:
	case s.queue <- snap:
	default:
		s.logger.Warn("鏡像隊列已滿，丟棄快照", "game_id", snap.GameID)
	}
}

// Load 讀取快照
func (s *RedisSnapshotter) Load(ctx context.Context, gameID string) (MatchSnapshot, error) {
	data, err := s.client.Get(ctx, s.Key(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return MatchSnapshot{}, ErrMatchNotFound
	}
	if err != nil {
		return MatchSnapshot{}, fmt.Errorf("讀取快照失敗: %w", err)
	}

	var snap MatchSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return MatchSnapshot{}, fmt.Errorf("解析快照失敗: %w", err)
	}
	return snap, nil
}

// Stop 寫完隊列中剩餘的快照後停止
func (s *RedisSnapshotter) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *RedisSnapshotter) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case snap := <-s.queue:
			s.write(snap)

		case <-s.stopCh:
			// 排空隊列
			for {
				select {
				case snap := <-s.queue:
					s.write(snap)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSnapshotter) write(snap MatchSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("編碼快照失敗", "game_id", snap.GameID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.Key(snap.GameID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("寫入快照失敗", "game_id", snap.GameID, "error", err)
	}
}
