package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-kalah-relay/internal/kalah"
)

// verifySearchLimit 驗證額外回合鏈時最多展開的節點數
const verifySearchLimit = 4096

// StoreOptions MatchStore 的可選依賴
type StoreOptions struct {
	Mirror        StateMirror    // nil = 不鏡像
	Events        EventPublisher // nil = 不發佈事件
	VerifyMoves   bool
	StartingSeeds int           // 驗證第一步時的開局盤面
	LoadTimeout   time.Duration // 從鏡像載入的超時
}

// MatchStore 對局存儲
//
// 系統設計考量：
//
//  1. 兩層鎖：
//     store.mu 只保護 map 本身（查找、插入、淘汰）；
//     每局的 Match.mu 保護盤面與槽位。不同對局的走步互不阻塞。
//
//  2. 鎖內不做阻塞 I/O：
//     Connection.Send 與 StateMirror.Save 都是非阻塞入隊，
//     可以在 Match.mu 內呼叫以保證同一局的轉發順序。
//
//  3. 容錯：
//     查無對局、陌生連接、對手離線都只記錄日誌，不回覆也不崩潰。
type MatchStore struct {
	matches  map[string]*Match
	mu       sync.RWMutex
	registry *Registry
	opts     StoreOptions
	events   EventPublisher
	logger   *slog.Logger
}

// NewMatchStore 創建對局存儲
func NewMatchStore(registry *Registry, opts StoreOptions, logger *slog.Logger) *MatchStore {
	if opts.StartingSeeds <= 0 {
		opts.StartingSeeds = 4
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Second
	}

	events := opts.Events
	if events == nil {
		events = noopPublisher{}
	}

	return &MatchStore{
		matches:  make(map[string]*Match),
		registry: registry,
		opts:     opts,
		events:   events,
		logger:   logger,
	}
}

// newMatchID 生成對局 ID
func newMatchID() string {
	return "game_" + uuid.NewString()
}

// Insert 插入新對局；ID 已存在時返回 ErrMatchExists
func (s *MatchStore) Insert(m *Match) error {
	s.mu.Lock()
	if _, exists := s.matches[m.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("game %s: %w", m.ID, ErrMatchExists)
	}
	s.matches[m.ID] = m
	s.mu.Unlock()

	m.mu.Lock()
	s.save(m)
	players := []string{m.participants[0].PlayerID, m.participants[1].PlayerID}
	m.mu.Unlock()

	s.events.Publish(EventMatchCreated, MatchEvent{GameID: m.ID, Players: players})
	s.logger.Info("對局已創建", "game_id", m.ID, "player1", players[0], "player2", players[1])
	return nil
}

// Get 查詢對局
func (s *MatchStore) Get(gameID string) (*Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[gameID]
	return m, ok
}

// Create 以兩個玩家 ID 顯式建立對局（CREATE_GAME）
//
// 兩個玩家都必須有存活連接且不是同一條連接，否則回覆 ERROR "Players not found"。
// gameID 為空時由伺服器生成。成功後兩個玩家各收到 GAME_CREATED。
func (s *MatchStore) Create(requester *Connection, gameID, player1ID, player2ID string) (*Match, error) {
	c1, ok1 := s.registry.FindByPlayerID(player1ID)
	c2, ok2 := s.registry.FindByPlayerID(player2ID)
	if !ok1 || !ok2 {
		s.reply(requester, errorMsg("Players not found"))
		s.logger.Warn("建立對局失敗：玩家不在線",
			"conn_id", requester.ID, "player1", player1ID, "player2", player2ID)
		return nil, ErrParticipantNotFound
	}
	if c1 == c2 {
		// 同一條連接佔兩個座位會把自己的走步轉發給自己
		s.reply(requester, errorMsg("Players not found"))
		s.logger.Warn("建立對局失敗：兩個座位是同一條連接",
			"conn_id", requester.ID, "player1", player1ID, "player2", player2ID)
		return nil, ErrParticipantNotFound
	}

	if gameID == "" {
		gameID = newMatchID()
	}

	m := NewMatch(gameID,
		Participant{PlayerID: player1ID, Player: PlayerInfo{ID: player1ID}, Conn: c1},
		Participant{PlayerID: player2ID, Player: PlayerInfo{ID: player2ID}, Conn: c2},
	)
	if err := s.Insert(m); err != nil {
		s.reply(requester, errorMsg(fmt.Sprintf("Game %s already exists", gameID)))
		return nil, err
	}

	s.reply(c1, gameCreatedMsg(gameID))
	s.reply(c2, gameCreatedMsg(gameID))
	return m, nil
}

// Join 將連接綁定到指定角色並回覆當前盤面（JOIN_GAME）
func (s *MatchStore) Join(conn *Connection, gameID, role string) error {
	slot, ok := RoleSlot(role)
	if !ok {
		s.reply(conn, errorMsg(fmt.Sprintf("Invalid player role: %s", role)))
		return fmt.Errorf("role %q: %w", role, ErrInvalidRole)
	}

	m, ok := s.Get(gameID)
	if !ok {
		s.reply(conn, errorMsg(fmt.Sprintf("Game %s not found", gameID)))
		return ErrMatchNotFound
	}

	m.mu.Lock()
	m.bind(slot, conn)
	state := m.state
	m.mu.Unlock()

	s.reply(conn, gameStateMsg(state))
	s.logger.Info("玩家加入對局", "conn_id", conn.ID, "game_id", gameID, "role", role)
	return nil
}

// ApplyMove 保存盤面並轉發給對手（GAME_MOVE）
//
// 查無對局、對局已結束、陌生連接時丟棄並返回錯誤，不回覆客戶端。
// 啟用走步驗證時，驗證失敗回覆 ERROR，盤面不變也不轉發。
func (s *MatchStore) ApplyMove(conn *Connection, gameID string, move, state json.RawMessage) error {
	m, ok := s.Get(gameID)
	if !ok {
		s.logger.Warn("走步丟棄：對局不存在", "conn_id", conn.ID, "game_id", gameID)
		return ErrMatchNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == MatchCompleted {
		s.logger.Warn("走步丟棄：對局已結束", "conn_id", conn.ID, "game_id", gameID)
		return wrapRelayError(fmt.Errorf("game %s completed", gameID), CodeMatchNotFound, "game already completed")
	}

	slot, ok := m.slotOf(conn)
	if !ok {
		s.logger.Warn("走步丟棄：不是對局參與者", "conn_id", conn.ID, "game_id", gameID)
		return ErrParticipantNotFound
	}

	if s.opts.VerifyMoves {
		if reason := s.verifyMove(m.state, move, state, slot); reason != nil {
			s.reply(conn, errorMsg(fmt.Sprintf("Illegal move: %v", reason)))
			s.logger.Warn("走步驗證失敗", "conn_id", conn.ID, "game_id", gameID, "role", SlotRole(slot), "error", reason)
			return fmt.Errorf("%w: %w", ErrIllegalMove, reason)
		}
	}

	m.state = state
	m.updatedAt = time.Now()
	s.save(m)

	opponent := m.opponentConn(slot)
	if opponent == nil {
		s.logger.Info("對手不在線，走步已保存", "game_id", gameID, "role", SlotRole(slot))
		return nil
	}
	if err := opponent.Send(opponentMoveMsg(move, state)); err != nil {
		s.logger.Warn("轉發走步失敗", "game_id", gameID, "conn_id", opponent.ID, "error", err)
	}
	return nil
}

// Complete 標記對局結束並轉發終局（GAME_OVER）
//
// 重複的 GAME_OVER（雙方都偵測到終局）會覆蓋盤面並再次轉發，
// 完成時間與完成事件只在第一次記錄。
func (s *MatchStore) Complete(conn *Connection, gameID string, state, winner json.RawMessage) error {
	m, ok := s.Get(gameID)
	if !ok {
		s.logger.Warn("終局丟棄：對局不存在", "conn_id", conn.ID, "game_id", gameID)
		return ErrMatchNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slotOf(conn)
	if !ok {
		s.logger.Warn("終局丟棄：不是對局參與者", "conn_id", conn.ID, "game_id", gameID)
		return ErrParticipantNotFound
	}

	now := time.Now()
	first := m.status != MatchCompleted
	if len(state) > 0 {
		m.state = state
	}
	m.winner = winner
	m.status = MatchCompleted
	m.updatedAt = now
	if first {
		m.completedAt = now
	}
	s.save(m)

	if opponent := m.opponentConn(slot); opponent != nil {
		if err := opponent.Send(gameOverMsg(gameID, m.state, winner)); err != nil {
			s.logger.Warn("轉發終局失敗", "game_id", gameID, "conn_id", opponent.ID, "error", err)
		}
	}

	if first {
		s.events.Publish(EventMatchCompleted, MatchEvent{
			GameID:  gameID,
			Players: []string{m.participants[0].PlayerID, m.participants[1].PlayerID},
			Winner:  winner,
		})
		s.logger.Info("對局已結束", "game_id", gameID, "role", SlotRole(slot))
	}
	return nil
}

// Sync 回覆對局的最新盤面（SYNC_GAME）
//
// 內存中查無對局時嘗試從鏡像載入（進程重啟後的重連）。
// 對局存在但尚無盤面時回覆 gameState: null。
func (s *MatchStore) Sync(conn *Connection, gameID string) error {
	if m, ok := s.Get(gameID); ok {
		s.reply(conn, gameStateMsg(m.State()))
		return nil
	}

	if s.opts.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.LoadTimeout)
		defer cancel()

		snap, err := s.opts.Mirror.Load(ctx, gameID)
		if err == nil {
			s.reply(conn, gameStateMsg(snap.GameState))
			s.logger.Info("從鏡像回覆盤面", "conn_id", conn.ID, "game_id", gameID)
			return nil
		}
		if ErrorCode(err) != CodeMatchNotFound {
			s.logger.Error("載入鏡像失敗", "game_id", gameID, "error", err)
		}
	}

	s.reply(conn, errorMsg(fmt.Sprintf("Game %s not found", gameID)))
	return ErrMatchNotFound
}

// OnParticipantDisconnect 通知仍在線的對手（連接關閉時呼叫）
//
// 只處理連接目前仍綁定中的進行中對局；已被重連取代的舊句柄不觸發通知。
// 返回通知成功的對局數。
func (s *MatchStore) OnParticipantDisconnect(conn *Connection) int {
	s.mu.RLock()
	matches := make([]*Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, m)
	}
	s.mu.RUnlock()

	notified := 0
	for _, m := range matches {
		m.mu.Lock()
		slot, bound := m.hasConn(conn)
		if !bound || m.status == MatchCompleted {
			m.mu.Unlock()
			continue
		}

		opponent := m.opponentConn(slot)
		playerID := m.participants[slot].PlayerID
		m.mu.Unlock()

		s.events.Publish(EventParticipantDisconnected, MatchEvent{GameID: m.ID, Players: []string{playerID}})

		if opponent == nil || opponent == conn {
			continue
		}
		if err := opponent.Send(opponentDisconnectedMsg()); err != nil {
			s.logger.Warn("通知對手斷線失敗", "game_id", m.ID, "conn_id", opponent.ID, "error", err)
			continue
		}
		notified++
		s.logger.Info("已通知對手斷線", "game_id", m.ID, "conn_id", conn.ID, "role", SlotRole(slot))
	}
	return notified
}

// EvictCompleted 移除結束時間早於 now-retention 的對局
//
// 進行中的對局永不淘汰。retention <= 0 時不做任何事。
func (s *MatchStore) EvictCompleted(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, m := range s.matches {
		m.mu.Lock()
		expired := m.status == MatchCompleted && m.completedAt.Before(cutoff)
		m.mu.Unlock()

		if expired {
			delete(s.matches, id)
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Info("已淘汰過期對局", "count", evicted, "remaining", len(s.matches))
	}
	return evicted
}

// MatchStats 對局統計
type MatchStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// Stats 獲取統計資訊
func (s *MatchStore) Stats() MatchStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := MatchStats{Total: len(s.matches)}
	for _, m := range s.matches {
		if m.Status() == MatchCompleted {
			stats.Completed++
		} else {
			stats.Active++
		}
	}
	return stats
}

// Len 對局數
func (s *MatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// save 非阻塞寫入鏡像；呼叫方必須持有 m.mu
func (s *MatchStore) save(m *Match) {
	if s.opts.Mirror != nil {
		s.opts.Mirror.Save(m.snapshot())
	}
}

func (s *MatchStore) reply(conn *Connection, msg Outbound) {
	if err := conn.Send(msg); err != nil {
		s.logger.Warn("回覆失敗", "conn_id", conn.ID, "type", msg.Type, "error", err)
	}
}

// verifyMove 以盤面規則重算客戶端提交的走步
//
// 尚無盤面時以開局盤面為基準。客戶端在額外回合中只上報最後一步，
// 因此允許同一玩家的連續走步鏈。返回的錯誤是回覆給客戶端的原因。
func (s *MatchStore) verifyMove(prev, move, next json.RawMessage, slot int) error {
	var pit int
	if err := json.Unmarshal(move, &pit); err != nil {
		return fmt.Errorf("move must be a pit index: %w", err)
	}

	var after kalah.State
	if err := json.Unmarshal(next, &after); err != nil {
		return fmt.Errorf("invalid game state: %w", err)
	}

	var before kalah.State
	if isNullState(prev) {
		var players [2]kalah.Player
		copy(players[:], after.Players)
		before = kalah.NewState(s.opts.StartingSeeds, players)
	} else if err := json.Unmarshal(prev, &before); err != nil {
		return fmt.Errorf("stored state is not a board: %w", err)
	}

	if before.CurrentPlayer != slot {
		return fmt.Errorf("not your turn (current player is %d)", before.CurrentPlayer)
	}
	if !kalah.Reachable(before, after, pit, verifySearchLimit) {
		return fmt.Errorf("pit %d does not match submitted state", pit)
	}
	return nil
}

func isNullState(state json.RawMessage) bool {
	return len(state) == 0 || string(state) == "null"
}
