package internal

import (
	"log/slog"
)

// Relay 訊息分派
//
// 每個文字幀解析後依 type 交給 Matchmaker 或 MatchStore。
// 無法解析的幀只記錄日誌，不回覆、不斷線；未知類型直接忽略。
type Relay struct {
	matchmaker *Matchmaker
	store      *MatchStore
	logger     *slog.Logger
}

// NewRelay 創建訊息分派器
func NewRelay(matchmaker *Matchmaker, store *MatchStore, logger *slog.Logger) *Relay {
	return &Relay{
		matchmaker: matchmaker,
		store:      store,
		logger:     logger,
	}
}

// Dispatch 處理一個入站文字幀
func (r *Relay) Dispatch(conn *Connection, frame []byte) {
	msg, err := DecodeInbound(frame)
	if err != nil {
		r.logger.Warn("無法解析的訊息", "conn_id", conn.ID, "error", err)
		return
	}

	r.logger.Debug("收到訊息", "conn_id", conn.ID, "type", msg.Type, "game_id", msg.GameID)

	switch msg.Type {
	case TypeFindMatch:
		if msg.Player == nil || msg.Player.ID == "" {
			r.logger.Warn("FIND_MATCH 缺少玩家資訊", "conn_id", conn.ID, "error", ErrMalformedMessage)
			return
		}
		r.matchmaker.FindMatch(conn, *msg.Player)

	case TypeCreateGame:
		_, _ = r.store.Create(conn, msg.GameID, msg.Player1ID, msg.Player2ID)

	case TypeJoinGame:
		_ = r.store.Join(conn, msg.GameID, msg.PlayerRole)

	case TypeGameMove:
		_ = r.store.ApplyMove(conn, msg.GameID, msg.Move, msg.GameState)

	case TypeGameOver:
		_ = r.store.Complete(conn, msg.GameID, msg.GameState, msg.Winner)

	case TypeSyncGame:
		_ = r.store.Sync(conn, msg.GameID)

	default:
		r.logger.Debug("忽略未知訊息類型", "conn_id", conn.ID, "type", msg.Type)
	}
}
