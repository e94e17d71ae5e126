package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAvatar 未提供頭像時使用
const DefaultAvatar = "/assets/default-avatar.png"

// LeaderboardLimit GET 排行榜返回的筆數
const LeaderboardLimit = 10

// ErrInvalidEntry 排行榜條目欄位不合法
var ErrInvalidEntry = errors.New("invalid leaderboard entry")

// LeaderboardEntry 一筆對局成績
type LeaderboardEntry struct {
	ID         string    `json:"id"`
	PlayerName string    `json:"playerName"`
	Score      int       `json:"score"`
	Duration   int       `json:"duration"` // 秒
	Avatar     string    `json:"avatar"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Normalize 檢查必填欄位並補上預設值
func (e *LeaderboardEntry) Normalize() error {
	e.PlayerName = strings.TrimSpace(e.PlayerName)
	if e.PlayerName == "" {
		return fmt.Errorf("%w: playerName is required", ErrInvalidEntry)
	}
	if len(e.PlayerName) > 64 {
		return fmt.Errorf("%w: playerName too long", ErrInvalidEntry)
	}
	if e.Score < 0 {
		return fmt.Errorf("%w: score must not be negative", ErrInvalidEntry)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidEntry)
	}
	if e.Avatar == "" {
		e.Avatar = DefaultAvatar
	}
	return nil
}

// Leaderboard 排行榜存儲
type Leaderboard interface {
	Add(ctx context.Context, entry LeaderboardEntry) (LeaderboardEntry, error)
	Top(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// PostgresLeaderboard 以 PostgreSQL 存儲排行榜
//
// 排序：分數高者在前，同分時先提交者在前。
// (score DESC, created_at ASC) 上有索引，Top 查詢只掃描 limit 筆。
type PostgresLeaderboard struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLeaderboard 創建排行榜
func NewPostgresLeaderboard(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLeaderboard {
	return &PostgresLeaderboard{pool: pool, logger: logger}
}

// Add 新增一筆成績
func (l *PostgresLeaderboard) Add(ctx context.Context, entry LeaderboardEntry) (LeaderboardEntry, error) {
	if err := entry.Normalize(); err != nil {
		return LeaderboardEntry{}, err
	}
	entry.ID = uuid.NewString()

	const query = `
		INSERT INTO leaderboard_entries (id, player_name, score, duration_seconds, avatar)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := l.pool.QueryRow(ctx, query,
		entry.ID, entry.PlayerName, entry.Score, entry.Duration, entry.Avatar,
	).Scan(&entry.CreatedAt)
	if err != nil {
		l.logger.Error("新增排行榜條目失敗", "player_name", entry.PlayerName, "error", err)
		return LeaderboardEntry{}, fmt.Errorf("insert leaderboard entry: %w", err)
	}

	l.logger.Info("排行榜條目已新增", "id", entry.ID, "player_name", entry.PlayerName, "score", entry.Score)
	return entry, nil
}

// Top 返回分數最高的 limit 筆
func (l *PostgresLeaderboard) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = LeaderboardLimit
	}

	const query = `
		SELECT id, player_name, score, duration_seconds, avatar, created_at
		FROM leaderboard_entries
		ORDER BY score DESC, created_at ASC
		LIMIT $1`

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeaderboardEntry, error) {
		var e LeaderboardEntry
		err := row.Scan(&e.ID, &e.PlayerName, &e.Score, &e.Duration, &e.Avatar, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	return entries, nil
}
