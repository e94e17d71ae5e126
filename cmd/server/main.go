package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-kalah-relay/internal"
	"github.com/koopa0/system-design/14-kalah-relay/internal/migrations"
)

func main() {
	// 解析命令行參數（明確指定時覆蓋配置檔）
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx := context.Background()
	var hubOpts internal.HubOptions

	// 排行榜（可選）
	var leaderboard internal.Leaderboard
	if dsn := cfg.PostgresDSN(); dsn != "" {
		pool, err := connectPostgres(ctx, cfg, dsn, logger)
		if err != nil {
			logger.Error("PostgreSQL 初始化失敗", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		leaderboard = internal.NewPostgresLeaderboard(pool, logger)
	} else {
		logger.Warn("未配置 PostgreSQL，排行榜 API 將返回 503")
	}

	// 對局鏡像（可選）
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("連接 Redis 失敗", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}

		ttl := cfg.Match.Retention
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		snapshotter := internal.NewRedisSnapshotter(redisClient, cfg.Redis.KeyPrefix, ttl, cfg.Redis.Timeout, 0, logger)
		defer snapshotter.Stop()
		hubOpts.Mirror = snapshotter
	}

	// 生命週期事件（可選）
	if cfg.NATS.URL != "" {
		publisher, err := internal.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("NATS 初始化失敗", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("關閉 NATS 連接失敗", "error", err)
			}
		}()
		hubOpts.Events = publisher
	}

	hub := internal.NewHub(cfg, hubOpts, logger)
	hub.Start()

	// 已結束對局的淘汰（retention 為 0 時不啟用）
	var evictor *internal.Evictor
	if cfg.Match.Retention > 0 {
		evictor, err = internal.NewEvictor(hub.Store(), cfg.Match.Retention, cfg.Match.EvictionInterval, logger)
		if err != nil {
			logger.Error("淘汰任務初始化失敗", "error", err)
			os.Exit(1)
		}
		evictor.Start()
	}

	handler := internal.NewHandler(hub, leaderboard, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Kalah 中繼服務器啟動",
			"port", cfg.Server.Port,
			"verify_moves", cfg.Relay.VerifyMoves,
			"heartbeat", cfg.Relay.HeartbeatInterval,
			"leaderboard", leaderboard != nil,
			"mirror", hubOpts.Mirror != nil,
			"events", hubOpts.Events != nil)
		serverErrors <- server.ListenAndServe()
	}()

	// 等待中斷信號
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器啟動失敗", "error", err)
		}
	case sig := <-shutdown:
		logger.Info("收到關閉信號，開始優雅關閉...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		// 停止接受新連接
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("服務器關閉失敗", "error", err)
		}
	}

	if evictor != nil {
		if err := evictor.Stop(); err != nil {
			logger.Warn("停止淘汰任務失敗", "error", err)
		}
	}

	// 已升級的 WebSocket 不受 server.Shutdown 管理，由 Hub 關閉
	hub.Stop()

	logger.Info("服務器已關閉")
}

// connectPostgres 建立連接池並執行遷移
func connectPostgres(ctx context.Context, cfg *internal.Config, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return nil, err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("關閉遷移管理器失敗", "error", err)
	}

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
