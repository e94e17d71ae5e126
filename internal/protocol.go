package internal

import (
	"encoding/json"
	"fmt"
)

// 客戶端 → 伺服器
const (
	TypeFindMatch  = "FIND_MATCH"
	TypeCreateGame = "CREATE_GAME"
	TypeJoinGame   = "JOIN_GAME"
	TypeGameMove   = "GAME_MOVE"
	TypeGameOver   = "GAME_OVER"
	TypeSyncGame   = "SYNC_GAME"
)

// 伺服器 → 客戶端
const (
	TypeConnected            = "connected"
	TypeWaiting              = "WAITING"
	TypeMatchFound           = "MATCH_FOUND"
	TypeGameCreated          = "GAME_CREATED"
	TypeGameState            = "GAME_STATE"
	TypeOpponentMove         = "OPPONENT_MOVE"
	TypeOpponentDisconnected = "OPPONENT_DISCONNECTED"
	TypeError                = "ERROR"
)

// 角色標籤，對應參與者槽位 0 / 1
const (
	RolePlayer1 = "player1"
	RolePlayer2 = "player2"
)

// RoleSlot 角色標籤轉槽位
func RoleSlot(role string) (int, bool) {
	switch role {
	case RolePlayer1:
		return 0, true
	case RolePlayer2:
		return 1, true
	default:
		return 0, false
	}
}

// SlotRole 槽位轉角色標籤
func SlotRole(slot int) string {
	if slot == 0 {
		return RolePlayer1
	}
	return RolePlayer2
}

// PlayerInfo 客戶端自報的玩家資訊
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Inbound 客戶端訊息
//
// 各訊息類型只使用其中一部分欄位。Move、GameState、Winner 對伺服器不透明，
// 保留原始 JSON 以便原樣轉發。
type Inbound struct {
	Type       string          `json:"type"`
	Player     *PlayerInfo     `json:"player,omitempty"`
	GameID     string          `json:"gameId,omitempty"`
	Player1ID  string          `json:"player1Id,omitempty"`
	Player2ID  string          `json:"player2Id,omitempty"`
	PlayerRole string          `json:"playerRole,omitempty"`
	Move       json.RawMessage `json:"move,omitempty"`
	GameState  json.RawMessage `json:"gameState,omitempty"`
	Winner     json.RawMessage `json:"winner,omitempty"`
}

// DecodeInbound 解析一個文字幀
func DecodeInbound(frame []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Inbound{}, wrapRelayError(err, CodeMalformedMessage, "invalid json")
	}
	if msg.Type == "" {
		return Inbound{}, wrapRelayError(fmt.Errorf("missing type"), CodeMalformedMessage, "invalid message")
	}
	return msg, nil
}

// Outbound 伺服器訊息
//
// GameState 用指標區分「不帶此欄位」與「明確為 null」：
// GAME_STATE 在對局尚無盤面時必須送出 "gameState": null。
type Outbound struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	GameID    string           `json:"gameId,omitempty"`
	Role      string           `json:"role,omitempty"`
	Opponent  *PlayerInfo      `json:"opponent,omitempty"`
	GameState *json.RawMessage `json:"gameState,omitempty"`
	Move      json.RawMessage  `json:"move,omitempty"`
	Winner    json.RawMessage  `json:"winner,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func connectedMsg(connID string) Outbound {
	return Outbound{Type: TypeConnected, ID: connID}
}

func waitingMsg() Outbound {
	return Outbound{Type: TypeWaiting}
}

func matchFoundMsg(gameID, role string, opponent PlayerInfo) Outbound {
	return Outbound{Type: TypeMatchFound, GameID: gameID, Role: role, Opponent: &opponent}
}

func gameCreatedMsg(gameID string) Outbound {
	return Outbound{Type: TypeGameCreated, GameID: gameID}
}

func gameStateMsg(state json.RawMessage) Outbound {
	return Outbound{Type: TypeGameState, GameState: rawState(state)}
}

func opponentMoveMsg(move, state json.RawMessage) Outbound {
	return Outbound{Type: TypeOpponentMove, Move: move, GameState: rawState(state)}
}

func gameOverMsg(gameID string, state, winner json.RawMessage) Outbound {
	return Outbound{Type: TypeGameOver, GameID: gameID, GameState: rawState(state), Winner: winner}
}

func opponentDisconnectedMsg() Outbound {
	return Outbound{Type: TypeOpponentDisconnected}
}

func errorMsg(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

// rawState 空盤面編碼為 null
func rawState(state json.RawMessage) *json.RawMessage {
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	return &state
}
