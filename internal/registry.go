package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Socket 連接底層的雙工傳輸
//
// *websocket.Conn 直接滿足此介面；測試以記憶體實作替代。
// WriteControl 與 Close 可與其他方法併發呼叫，其餘寫入只由 writePump 執行。
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection 一條存活的客戶端連接
//
// 生命週期完全由 Registry 管理：Register 時建立並啟動寫入 goroutine，
// Hub.Disconnect 時關閉並移除。
type Connection struct {
	ID          string
	ConnectedAt time.Time

	socket       Socket
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	logger       *slog.Logger

	open  atomic.Bool
	alive atomic.Bool // 上一次心跳探測是否已回應

	mu       sync.Mutex
	playerID string // 收到 FIND_MATCH 或 JOIN_GAME 後才有值
}

// IsOpen 連接是否仍可寫入
func (c *Connection) IsOpen() bool {
	return c.open.Load()
}

// PlayerID 關聯的玩家 ID
func (c *Connection) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// SetPlayerID 關聯玩家 ID
func (c *Connection) SetPlayerID(id string) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

// MarkAlive 收到 Pong（或任何客戶端訊息）時呼叫
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
}

// Send 非阻塞發送訊息
//
// 連接已關閉或發送緩衝已滿時返回 ErrSendFailure，呼叫方只記錄不重試。
func (c *Connection) Send(msg any) error {
	if !c.IsOpen() {
		return ErrSendFailure
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	select {
	case <-c.done:
		return ErrSendFailure
	case c.send <- data:
		return nil
	default:
		return wrapRelayError(fmt.Errorf("buffer of %d full", cap(c.send)), CodeSendFailure, "send buffer full")
	}
}

// Ping 發送傳輸層心跳探測
func (c *Connection) Ping(deadline time.Time) error {
	return c.socket.WriteControl(websocket.PingMessage, nil, deadline)
}

// markClosed 只有第一次呼叫返回 true
func (c *Connection) markClosed() bool {
	if !c.open.CompareAndSwap(true, false) {
		return false
	}
	close(c.done)
	return true
}

// writePump 將緩衝中的訊息依序寫出
func (c *Connection) writePump() {
	defer c.socket.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Error("設置寫入期限失敗", "conn_id", c.ID, "error", err)
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("寫入訊息失敗", "conn_id", c.ID, "error", err)
				return
			}

		case <-c.done:
			// 嘗試發送關閉幀，忽略錯誤（對端可能已斷線）
			_ = c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Registry 連接註冊表
//
// 每條連接在註冊時獲得進程內唯一的 ID（時間戳 + 遞增序號），
// 關閉後從表中移除。
type Registry struct {
	conns        map[string]*Connection
	mu           sync.RWMutex
	seq          atomic.Uint64
	sendBuffer   int
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry 創建連接註冊表
func NewRegistry(sendBuffer int, writeTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		conns:        make(map[string]*Connection),
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Register 註冊新連接並啟動寫入 goroutine
func (r *Registry) Register(socket Socket) *Connection {
	now := time.Now()
	conn := &Connection{
		ID:           fmt.Sprintf("conn_%d_%d", now.UnixMilli(), r.seq.Add(1)),
		ConnectedAt:  now,
		socket:       socket,
		send:         make(chan []byte, r.sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: r.writeTimeout,
		logger:       r.logger,
	}
	conn.open.Store(true)
	conn.alive.Store(true)

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	go conn.writePump()

	r.logger.Info("連接已註冊", "conn_id", conn.ID)
	return conn
}

// Get 以 ID 查詢連接
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// FindByPlayerID 以玩家 ID 查詢存活連接
//
// 同一玩家重連後可能短暫存在多條連接，取最新的一條。
func (r *Registry) FindByPlayerID(playerID string) (*Connection, bool) {
	if playerID == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Connection
	for _, conn := range r.conns {
		if !conn.IsOpen() || conn.PlayerID() != playerID {
			continue
		}
		if found == nil || conn.ConnectedAt.After(found.ConnectedAt) {
			found = conn
		}
	}
	return found, found != nil
}

// Send 以 ID 發送訊息
func (r *Registry) Send(id string, msg any) error {
	conn, ok := r.Get(id)
	if !ok {
		return ErrSendFailure
	}
	return conn.Send(msg)
}

// Remove 移除連接
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// ForEachOpen 對每條存活連接執行 fn
//
// fn 在鎖外執行，可以安全地呼叫 Registry 的其他方法。
func (r *Registry) ForEachOpen(fn func(*Connection)) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if conn.IsOpen() {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		fn(conn)
	}
}

// Count 存活連接數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
