package internal

import (
	"encoding/json"
	"sync"
	"time"
)

// 系統設計問題：
//   兩條隨時可能斷線、重連的 WebSocket 連接，如何共享同一局遊戲的權威狀態？
//
// 核心挑戰：
//   1. 身份與連接分離：玩家 ID 是持久的，連接是易逝的
//   2. 並發控制：雙方的 GAME_MOVE / SYNC_GAME 可能同時到達
//   3. 重連：斷線後以新連接 JOIN_GAME，盤面不能丟
//   4. 資源回收：已結束的對局不應永久佔用內存
//
// 設計方案：
//   ✅ 參與者槽位（player1 / player2）固定玩家 ID，連接句柄可重新綁定
//   ✅ 每局一把 Mutex - 不同對局互不阻塞
//   ✅ 盤面保存原始 JSON - 伺服器只轉發，不解讀
//   ✅ 完成時間戳 - 供定時任務按保留期淘汰

// MatchStatus 對局狀態
//
//	active → completed
//
// 只有一次轉換；completed 之後不再接受走步。
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// Participant 對局的一個參與者槽位
type Participant struct {
	PlayerID string
	Player   PlayerInfo
	Conn     *Connection // 可能為 nil 或已關閉；重連時被替換
}

// Match 一局對戰
type Match struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	participants [2]Participant
	state        json.RawMessage // 最近一次提交的盤面；nil 表示尚未有人提交
	status       MatchStatus
	updatedAt    time.Time
	completedAt  time.Time
	winner       json.RawMessage
}

// NewMatch 創建對局，兩個槽位依序為 player1、player2
func NewMatch(id string, p1, p2 Participant) *Match {
	now := time.Now()
	return &Match{
		ID:           id,
		CreatedAt:    now,
		participants: [2]Participant{p1, p2},
		status:       MatchActive,
		updatedAt:    now,
	}
}

// slotOf 找出連接所在的槽位
//
// 先比對連接句柄；找不到時以連接的玩家 ID 比對並隱式重新綁定，
// 讓斷線重連但尚未送 JOIN_GAME 的客戶端也能繼續走步。
// 呼叫方必須持有 m.mu。
func (m *Match) slotOf(conn *Connection) (int, bool) {
	for i := range m.participants {
		if m.participants[i].Conn == conn {
			return i, true
		}
	}

	playerID := conn.PlayerID()
	if playerID == "" {
		return 0, false
	}
	for i := range m.participants {
		if m.participants[i].PlayerID == playerID {
			m.participants[i].Conn = conn
			return i, true
		}
	}
	return 0, false
}

// opponentConn 返回另一槽位的存活連接；不存在或已關閉時返回 nil
// 呼叫方必須持有 m.mu。
func (m *Match) opponentConn(slot int) *Connection {
	conn := m.participants[1-slot].Conn
	if conn == nil || !conn.IsOpen() {
		return nil
	}
	return conn
}

// bind 將連接綁定到槽位；呼叫方必須持有 m.mu
func (m *Match) bind(slot int, conn *Connection) {
	p := &m.participants[slot]
	p.Conn = conn
	if p.PlayerID == "" {
		p.PlayerID = conn.PlayerID()
	}
	if conn.PlayerID() == "" {
		conn.SetPlayerID(p.PlayerID)
	}
}

// hasConn 連接是否目前綁定在任一槽位；呼叫方必須持有 m.mu
func (m *Match) hasConn(conn *Connection) (int, bool) {
	for i := range m.participants {
		if m.participants[i].Conn == conn {
			return i, true
		}
	}
	return 0, false
}

// snapshot 當前可持久化的鏡像；呼叫方必須持有 m.mu
func (m *Match) snapshot() MatchSnapshot {
	return MatchSnapshot{
		GameID:    m.ID,
		GameState: m.state,
		Completed: m.status == MatchCompleted,
		UpdatedAt: m.updatedAt,
	}
}

// MatchInfo 對局摘要（查詢 API 使用）
type MatchInfo struct {
	GameID      string          `json:"gameId"`
	Status      MatchStatus     `json:"status"`
	Players     [2]PlayerInfo   `json:"players"`
	Online      [2]bool         `json:"online"`
	GameState   json.RawMessage `json:"gameState"`
	Winner      json.RawMessage `json:"winner,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Info 返回對局摘要
func (m *Match) Info() MatchInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := MatchInfo{
		GameID:    m.ID,
		Status:    m.status,
		GameState: m.state,
		Winner:    m.winner,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.updatedAt,
	}
	if info.GameState == nil {
		info.GameState = json.RawMessage("null")
	}
	for i, p := range m.participants {
		info.Players[i] = p.Player
		if info.Players[i].ID == "" {
			info.Players[i].ID = p.PlayerID
		}
		info.Online[i] = p.Conn != nil && p.Conn.IsOpen()
	}
	if m.status == MatchCompleted {
		completedAt := m.completedAt
		info.CompletedAt = &completedAt
	}
	return info
}

// Status 對局狀態
func (m *Match) Status() MatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// State 最近一次提交的盤面
func (m *Match) State() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
