package internal

import (
	"log/slog"
	"sync"
	"time"
)

// WaitingEntry 正在等待對手的玩家
type WaitingEntry struct {
	Conn   *Connection
	Player PlayerInfo
	Since  time.Time
}

// Matchmaker 單槽位配對隊列
//
// 系統設計問題：
//   兩個陌生玩家如何在沒有大廳的情況下配成一局？
//
// 設計方案：
//   ✅ 最多一個等待者 - 第二個到達的玩家立即與其配對
//   ✅ 配對時檢查等待者連接 - 已斷線的等待者直接被新玩家取代
//   ✅ 一把 Mutex 串行化 - 兩個同時到達的玩家不會都成為等待者
//
// 先到的玩家成為 player1（先手），後到的成為 player2。
type Matchmaker struct {
	mu      sync.Mutex
	waiting *WaitingEntry
	store   *MatchStore
	logger  *slog.Logger
}

// NewMatchmaker 創建配對隊列
func NewMatchmaker(store *MatchStore, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		store:  store,
		logger: logger,
	}
}

// FindMatch 處理 FIND_MATCH
//
// 返回配對成功時建立的對局；仍在等待時返回 nil。
func (q *Matchmaker) FindMatch(conn *Connection, player PlayerInfo) *Match {
	conn.SetPlayerID(player.ID)

	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.waiting == nil:
		q.enqueue(conn, player)
		return nil

	case q.waiting.Conn == conn:
		// 同一連接重複請求：刷新資料，繼續等待
		q.enqueue(conn, player)
		return nil

	case !q.waiting.Conn.IsOpen():
		q.logger.Info("等待者已斷線，由新玩家取代",
			"stale_conn_id", q.waiting.Conn.ID,
			"conn_id", conn.ID,
			"error", ErrStaleWaitingEntry)
		q.enqueue(conn, player)
		return nil
	}

	first := q.waiting
	q.waiting = nil

	m := NewMatch(newMatchID(),
		Participant{PlayerID: first.Player.ID, Player: first.Player, Conn: first.Conn},
		Participant{PlayerID: player.ID, Player: player, Conn: conn},
	)
	if err := q.store.Insert(m); err != nil {
		// ID 衝突：新玩家改為等待者
		q.logger.Error("插入對局失敗", "game_id", m.ID, "error", err)
		q.enqueue(conn, player)
		return nil
	}

	q.notify(first.Conn, matchFoundMsg(m.ID, RolePlayer1, player))
	q.notify(conn, matchFoundMsg(m.ID, RolePlayer2, first.Player))

	q.logger.Info("配對成功",
		"game_id", m.ID,
		"player1", first.Player.ID,
		"player2", player.ID,
		"waited", time.Since(first.Since).Round(time.Millisecond))
	return m
}

// Remove 連接關閉時移除其等待中的條目
func (q *Matchmaker) Remove(conn *Connection) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting == nil || q.waiting.Conn != conn {
		return false
	}
	q.waiting = nil
	q.logger.Info("等待者已離開", "conn_id", conn.ID)
	return true
}

// Waiting 是否有玩家正在等待
func (q *Matchmaker) Waiting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting != nil
}

// enqueue 呼叫方必須持有 q.mu
func (q *Matchmaker) enqueue(conn *Connection, player PlayerInfo) {
	q.waiting = &WaitingEntry{Conn: conn, Player: player, Since: time.Now()}
	q.notify(conn, waitingMsg())
	q.logger.Info("玩家等待配對", "conn_id", conn.ID, "player_id", player.ID)
}

func (q *Matchmaker) notify(conn *Connection, msg Outbound) {
	if err := conn.Send(msg); err != nil {
		q.logger.Warn("發送配對訊息失敗", "conn_id", conn.ID, "type", msg.Type, "error", err)
	}
}
