package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 整個服務的配置
type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"` // 空 = 允許所有來源
	} `yaml:"server"`

	Relay struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		SendBuffer        int           `yaml:"send_buffer"`
		MaxMessageBytes   int64         `yaml:"max_message_bytes"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		VerifyMoves       bool          `yaml:"verify_moves"` // 伺服器端重算走步
		StartingSeeds     int           `yaml:"starting_seeds"`
	} `yaml:"relay"`

	Match struct {
		Retention        time.Duration `yaml:"retention"` // 0 = 永不淘汰
		EvictionInterval time.Duration `yaml:"eviction_interval"`
	} `yaml:"match"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr      string        `yaml:"addr"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		KeyPrefix string        `yaml:"key_prefix"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
//
// 心跳預設 30 秒；Postgres/Redis/NATS 預設不啟用。
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second

	cfg.Relay.HeartbeatInterval = 30 * time.Second
	cfg.Relay.SendBuffer = 256
	cfg.Relay.MaxMessageBytes = 64 * 1024
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.StartingSeeds = 4

	cfg.Match.EvictionInterval = time.Minute

	cfg.Postgres.Port = 5432
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.Redis.KeyPrefix = "kalah:match:"
	cfg.Redis.Timeout = 2 * time.Second

	cfg.NATS.SubjectPrefix = "kalah"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置
//
// 順序：預設值 → YAML 檔（path 為空或檔案不存在時略過）→ .env → 環境變數
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// .env 不存在是正常情況
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KALAH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse KALAH_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("KALAH_VERIFY_MOVES"); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse KALAH_VERIFY_MOVES: %w", err)
		}
		c.Relay.VerifyMoves = verify
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 必須在 1-65535 之間: %d", c.Server.Port)
	}
	if c.Relay.HeartbeatInterval <= 0 {
		return fmt.Errorf("relay.heartbeat_interval 必須為正數")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer 必須為正數")
	}
	if c.Relay.MaxMessageBytes <= 0 {
		return fmt.Errorf("relay.max_message_bytes 必須為正數")
	}
	if c.Relay.StartingSeeds < 1 || c.Relay.StartingSeeds > 12 {
		return fmt.Errorf("relay.starting_seeds 必須在 1-12 之間: %d", c.Relay.StartingSeeds)
	}
	if c.Match.Retention < 0 {
		return fmt.Errorf("match.retention 不能為負數")
	}
	if c.Match.Retention > 0 && c.Match.EvictionInterval <= 0 {
		return fmt.Errorf("啟用 match.retention 時 match.eviction_interval 必須為正數")
	}
	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串；未配置時返回空字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	if c.Postgres.Host == "" {
		return ""
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
