package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// maxRequestBody 排行榜 POST 的請求體上限
const maxRequestBody = 16 * 1024

// Handler HTTP 請求處理器
type Handler struct {
	hub         *Hub
	leaderboard Leaderboard // nil = 未配置資料庫
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器；leaderboard 可以為 nil
func NewHandler(hub *Hub, leaderboard Leaderboard, logger *slog.Logger) *Handler {
	return &Handler{
		hub:         hub,
		leaderboard: leaderboard,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 升級需要原始的 ResponseWriter（Hijacker），不經過中間件
	mux.HandleFunc("GET /ws", h.hub.ServeWS)

	// 排行榜 API
	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.listLeaderboard))
	mux.HandleFunc("POST /api/v1/leaderboard", wrap(h.addLeaderboardEntry))

	// 對局查詢
	mux.HandleFunc("GET /api/v1/matches/{game_id}", wrap(h.getMatch))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

type addEntryRequest struct {
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	Duration   int    `json:"duration"`
	Avatar     string `json:"avatar"`
}

// listLeaderboard 排行榜前十名
func (h *Handler) listLeaderboard(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.errorResponse(w, "排行榜未啟用", http.StatusServiceUnavailable)
		return
	}

	entries, err := h.leaderboard.Top(r.Context(), LeaderboardLimit)
	if err != nil {
		h.logger.Error("查詢排行榜失敗", "error", err)
		h.errorResponse(w, "查詢排行榜失敗", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}

	h.jsonResponse(w, entries, http.StatusOK)
}

// addLeaderboardEntry 提交一筆成績
func (h *Handler) addLeaderboardEntry(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.errorResponse(w, "排行榜未啟用", http.StatusServiceUnavailable)
		return
	}

	var req addEntryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	entry := LeaderboardEntry{
		PlayerName: req.PlayerName,
		Score:      req.Score,
		Duration:   req.Duration,
		Avatar:     req.Avatar,
	}
	if err := entry.Normalize(); err != nil {
		h.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.leaderboard.Add(r.Context(), entry)
	if err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			h.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("新增排行榜條目失敗", "player_name", entry.PlayerName, "error", err)
		h.errorResponse(w, "新增排行榜條目失敗", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, created, http.StatusCreated)
}

// getMatch 對局摘要
func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("game_id")

	m, ok := h.hub.Store().Get(gameID)
	if !ok {
		h.errorResponse(w, "對局不存在: "+gameID, http.StatusNotFound)
		return
	}

	h.jsonResponse(w, m.Info(), http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.hub.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
