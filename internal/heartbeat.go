package internal

import (
	"log/slog"
	"sync"
	"time"
)

// Heartbeat 週期性探測連接存活
//
// 每一輪：
//   - 上一輪的 Ping 沒有收到 Pong（alive 仍為 false）→ 終止連接
//   - 否則將 alive 設為 false 並發送新的 Ping
//
// 一條無回應的連接最多在兩個週期內被清除。
// Ping 的寫入期限是 pingTimeout 而不是整個週期，一條卡住的連接不會拖住整輪掃描。
type Heartbeat struct {
	registry    *Registry
	interval    time.Duration
	pingTimeout time.Duration
	onDead      func(*Connection)
	logger      *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeat 創建心跳監視器；onDead 負責斷線後的完整清理
func NewHeartbeat(registry *Registry, interval, pingTimeout time.Duration, onDead func(*Connection), logger *slog.Logger) *Heartbeat {
	if pingTimeout <= 0 || pingTimeout > interval {
		pingTimeout = interval
	}
	return &Heartbeat{
		registry:    registry,
		interval:    interval,
		pingTimeout: pingTimeout,
		onDead:      onDead,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start 啟動背景 goroutine
func (h *Heartbeat) Start() {
	h.wg.Add(1)
	go h.loop()
}

// Stop 停止心跳
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
}

func (h *Heartbeat) loop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-h.stopCh:
			return
		}
	}
}

// Sweep 執行一輪探測，返回終止的連接數
func (h *Heartbeat) Sweep() int {
	terminated := 0
	h.registry.ForEachOpen(func(conn *Connection) {
		if !conn.alive.CompareAndSwap(true, false) {
			h.logger.Info("心跳逾時，終止連接", "conn_id", conn.ID)
			h.onDead(conn)
			terminated++
			return
		}

		if err := conn.Ping(time.Now().Add(h.pingTimeout)); err != nil {
			// 下一輪仍未回應就會被終止
			h.logger.Debug("發送 Ping 失敗", "conn_id", conn.ID, "error", err)
		}
	})

	if terminated > 0 {
		h.logger.Info("心跳掃描完成", "terminated", terminated, "remaining", h.registry.Count())
	}
	return terminated
}
