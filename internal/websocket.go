package internal

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何在兩個瀏覽器之間可靠地中繼回合制遊戲的每一步？
//
// 核心挑戰：
//   1. 連接管理：每條連接有唯一 ID，關閉時必須先通知對局再遺忘
//   2. 死連接：瀏覽器分頁被凍結、網絡中斷時 TCP 不一定會斷
//   3. 背壓：慢客戶端不能拖住其他玩家的轉發
//   4. 惡意輸入：超大幀、非 JSON 幀不能讓進程崩潰
//
// 設計方案：
//   ✅ Hub 模式 - 註冊表、配對隊列、對局存儲集中由 Hub 組裝
//   ✅ Ping/Pong 心跳 - 兩個週期未回應即終止
//   ✅ 每連接一個寫入 goroutine + 有界緩衝 - 滿了就丟棄並記錄
//   ✅ SetReadLimit - 超過上限的幀直接斷線

// HubOptions Hub 的可選依賴
type HubOptions struct {
	Mirror StateMirror
	Events EventPublisher
}

// Hub WebSocket 連接中心
//
// 斷線清理順序（Disconnect）：
//
//	標記關閉 → 移出配對隊列 → 通知對局中的對手 → 從註冊表移除
type Hub struct {
	cfg        *Config
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	registry   *Registry
	matchmaker *Matchmaker
	store      *MatchStore
	relay      *Relay
	heartbeat  *Heartbeat
}

// NewHub 組裝中繼服務的所有元件（心跳尚未啟動）
func NewHub(cfg *Config, opts HubOptions, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:    cfg,
		logger: logger,
	}

	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	h.registry = NewRegistry(cfg.Relay.SendBuffer, cfg.Relay.WriteTimeout, logger)
	h.store = NewMatchStore(h.registry, StoreOptions{
		Mirror:        opts.Mirror,
		Events:        opts.Events,
		VerifyMoves:   cfg.Relay.VerifyMoves,
		StartingSeeds: cfg.Relay.StartingSeeds,
		LoadTimeout:   cfg.Redis.Timeout,
	}, logger)
	h.matchmaker = NewMatchmaker(h.store, logger)
	h.relay = NewRelay(h.matchmaker, h.store, logger)
	h.heartbeat = NewHeartbeat(h.registry, cfg.Relay.HeartbeatInterval, cfg.Relay.WriteTimeout, h.Disconnect, logger)

	return h
}

// Registry 連接註冊表
func (h *Hub) Registry() *Registry { return h.registry }

// Store 對局存儲
func (h *Hub) Store() *MatchStore { return h.store }

// Matchmaker 配對隊列
func (h *Hub) Matchmaker() *Matchmaker { return h.matchmaker }

// Relay 訊息分派器
func (h *Hub) Relay() *Relay { return h.relay }

// Heartbeat 心跳監視器
func (h *Hub) Heartbeat() *Heartbeat { return h.heartbeat }

// Start 啟動心跳
func (h *Hub) Start() {
	h.heartbeat.Start()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.Server.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.Server.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeWS 處理 WebSocket 升級請求
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已經寫入了 HTTP 錯誤回應
		h.logger.Warn("WebSocket 升級失敗", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := h.Connect(ws)
	go h.readPump(conn, ws)
}

// Connect 註冊連接並發送歡迎訊息
func (h *Hub) Connect(socket Socket) *Connection {
	conn := h.registry.Register(socket)
	if err := conn.Send(connectedMsg(conn.ID)); err != nil {
		h.logger.Warn("發送歡迎訊息失敗", "conn_id", conn.ID, "error", err)
	}
	return conn
}

// Disconnect 關閉連接並完成清理；可重複呼叫
func (h *Hub) Disconnect(conn *Connection) {
	if !conn.markClosed() {
		return
	}

	h.matchmaker.Remove(conn)
	h.store.OnParticipantDisconnect(conn)
	h.registry.Remove(conn.ID)

	h.logger.Info("連接已關閉", "conn_id", conn.ID, "player_id", conn.PlayerID())
}

// readPump 讀取客戶端訊息直到連接關閉
func (h *Hub) readPump(conn *Connection, ws *websocket.Conn) {
	defer func() {
		h.Disconnect(conn)
		ws.Close()
	}()

	// 讀取期限為兩個心跳週期，Pong 與任何訊息都會延長
	readWindow := 2 * h.cfg.Relay.HeartbeatInterval
	extend := func() {
		if err := ws.SetReadDeadline(time.Now().Add(readWindow)); err != nil {
			h.logger.Error("設置讀取期限失敗", "conn_id", conn.ID, "error", err)
		}
	}

	ws.SetReadLimit(h.cfg.Relay.MaxMessageBytes)
	extend()
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		extend()
		return nil
	})

	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("WebSocket 讀取錯誤", "conn_id", conn.ID, "error", err)
			}
			return
		}

		conn.MarkAlive()
		extend()

		if messageType != websocket.TextMessage {
			h.logger.Debug("忽略非文字幀", "conn_id", conn.ID, "frame_type", messageType)
			continue
		}
		h.relay.Dispatch(conn, frame)
	}
}

// HubStats 中繼服務統計
type HubStats struct {
	Connections int        `json:"connections"`
	Waiting     bool       `json:"waiting"`
	Matches     MatchStats `json:"matches"`
}

// Stats 獲取統計資訊
func (h *Hub) Stats() HubStats {
	return HubStats{
		Connections: h.registry.Count(),
		Waiting:     h.matchmaker.Waiting(),
		Matches:     h.store.Stats(),
	}
}

// Stop 停止心跳並關閉所有連接
func (h *Hub) Stop() {
	h.heartbeat.Stop()

	h.registry.ForEachOpen(func(conn *Connection) {
		h.Disconnect(conn)
	})

	h.logger.Info("WebSocket Hub 已停止")
}
