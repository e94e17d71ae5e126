package internal_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
)

// TestDecodeInbound 測試入站訊息解析
func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, msg internal.Inbound)
	}{
		{
			name:  "find match",
			frame: `{"type":"FIND_MATCH","player":{"id":"p1","name":"Alice","avatar":"/assets/1.png"}}`,
			check: func(t *testing.T, msg internal.Inbound) {
				require.NotNil(t, msg.Player)
				assert.Equal(t, "p1", msg.Player.ID)
				assert.Equal(t, "Alice", msg.Player.Name)
			},
		},
		{
			name:  "game move keeps raw payload",
			frame: `{"type":"GAME_MOVE","gameId":"g1","move":3,"gameState":{"pits":[1,2],"extra":true}}`,
			check: func(t *testing.T, msg internal.Inbound) {
				assert.Equal(t, "g1", msg.GameID)
				assert.JSONEq(t, `3`, string(msg.Move))
				assert.JSONEq(t, `{"pits":[1,2],"extra":true}`, string(msg.GameState))
			},
		},
		{
			name:  "create game",
			frame: `{"type":"CREATE_GAME","gameId":"g2","player1Id":"a","player2Id":"b"}`,
			check: func(t *testing.T, msg internal.Inbound) {
				assert.Equal(t, "a", msg.Player1ID)
				assert.Equal(t, "b", msg.Player2ID)
			},
		},
		{name: "invalid json", frame: `{"type":`, wantErr: true},
		{name: "missing type", frame: `{"gameId":"g1"}`, wantErr: true},
		{name: "wrong type for field", frame: `{"type":"JOIN_GAME","gameId":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := internal.DecodeInbound([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, internal.ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

// TestOutbound_GameStateNull GAME_STATE 在沒有盤面時明確帶 null
func TestOutbound_GameStateNull(t *testing.T) {
	withNull := internal.Outbound{Type: internal.TypeGameState, GameState: new(json.RawMessage)}
	*withNull.GameState = json.RawMessage("null")

	data, err := json.Marshal(withNull)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"GAME_STATE","gameState":null}`, string(data))

	data, err = json.Marshal(internal.Outbound{Type: internal.TypeWaiting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"WAITING"}`, string(data))
}

// TestRoleSlot 測試角色轉換
func TestRoleSlot(t *testing.T) {
	slot, ok := internal.RoleSlot(internal.RolePlayer1)
	assert.True(t, ok)
	assert.Equal(t, 0, slot)

	slot, ok = internal.RoleSlot(internal.RolePlayer2)
	assert.True(t, ok)
	assert.Equal(t, 1, slot)

	_, ok = internal.RoleSlot("player3")
	assert.False(t, ok)

	assert.Equal(t, internal.RolePlayer1, internal.SlotRole(0))
	assert.Equal(t, internal.RolePlayer2, internal.SlotRole(1))
}

// TestRelayError 錯誤碼比較
func TestRelayError(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", internal.ErrMatchNotFound)

	assert.True(t, errors.Is(wrapped, internal.ErrMatchNotFound))
	assert.False(t, errors.Is(wrapped, internal.ErrSendFailure))
	assert.Equal(t, internal.CodeMatchNotFound, internal.ErrorCode(wrapped))
	assert.Equal(t, "", internal.ErrorCode(errors.New("plain")))
	assert.Contains(t, internal.ErrInvalidRole.Error(), internal.CodeInvalidRole)
}
