package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Evictor 定期淘汰已結束的對局
//
// 以 gocron 排程：單例模式，前一輪未完成時跳過本輪。
type Evictor struct {
	scheduler gocron.Scheduler
	store     *MatchStore
	retention time.Duration
	logger    *slog.Logger
}

// NewEvictor 創建淘汰任務（尚未啟動）
func NewEvictor(store *MatchStore, retention, interval time.Duration, logger *slog.Logger) (*Evictor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("創建排程器失敗: %w", err)
	}

	e := &Evictor{
		scheduler: scheduler,
		store:     store,
		retention: retention,
		logger:    logger,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			e.RunOnce(time.Now())
		}),
		gocron.WithName("evict-completed-matches"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("註冊淘汰任務失敗: %w", err)
	}

	return e, nil
}

// Start 開始排程
func (e *Evictor) Start() {
	e.scheduler.Start()
	e.logger.Info("對局淘汰任務已啟動", "retention", e.retention)
}

// RunOnce 立即執行一輪淘汰
func (e *Evictor) RunOnce(now time.Time) int {
	return e.store.EvictCompleted(now, e.retention)
}

// Stop 停止排程
func (e *Evictor) Stop() error {
	if err := e.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("停止排程器失敗: %w", err)
	}
	return nil
}
