package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// 生命週期事件名稱，完整主題為 <prefix>.<event>
const (
	EventMatchCreated            = "match.created"
	EventMatchCompleted          = "match.completed"
	EventParticipantDisconnected = "participant.disconnected"
)

// MatchEvent 對局生命週期事件
type MatchEvent struct {
	Event     string          `json:"event"`
	GameID    string          `json:"gameId"`
	Players   []string        `json:"players,omitempty"`
	Winner    json.RawMessage `json:"winner,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPublisher 事件發佈器
//
// Publish 不返回錯誤：事件是旁路資訊，發佈失敗只記錄日誌，
// 不影響中繼本身。
type EventPublisher interface {
	Publish(event string, e MatchEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, MatchEvent) {}

// NATSPublisher 以 Core NATS 發佈事件
//
// 系統設計考量：
//
//	Core NATS vs JetStream？
//	事件供儀表板、排行榜統計等下游訂閱，允許遺失；
//	Fire-and-forget 的 Core NATS 不會讓 NATS 故障拖慢走步轉發。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("kalah-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連接中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重連", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject 事件的完整主題
func (p *NATSPublisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

// Publish 發佈事件
func (p *NATSPublisher) Publish(event string, e MatchEvent) {
	e.Event = event
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("編碼事件失敗", "event", event, "game_id", e.GameID, "error", err)
		return
	}

	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		p.logger.Warn("發佈事件失敗", "event", event, "game_id", e.GameID, "error", err)
	}
}

// Close 送出緩衝中的事件後關閉連接
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
