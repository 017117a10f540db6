package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Directory（外部ユーザーディレクトリAPI）
	DirectoryAPIURL   string
	DirectoryAPIToken string

	// Messenger（メッセンジャーバックエンドAPI）
	MessengerAPIURL      string
	MessengerAdminUser   string
	MessengerAdminSecret string
	MessengerHTTPTimeout time.Duration
	DefaultChannelID     string

	// Database startup retry
	DBConnectRetryInterval time.Duration
	DBConnectMaxWait       time.Duration // 0 は無制限

	// Contact sync
	ContactSyncRate  float64 // メッセンジャーAPI呼び出しのレート（req/sec）
	ContactSyncBurst int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.DirectoryAPIURL = os.Getenv("DIRECTORY_API_URL")
	if cfg.DirectoryAPIURL == "" {
		missing = append(missing, "DIRECTORY_API_URL")
	}

	cfg.DirectoryAPIToken = os.Getenv("DIRECTORY_API_TOKEN")
	if cfg.DirectoryAPIToken == "" {
		missing = append(missing, "DIRECTORY_API_TOKEN")
	}

	cfg.MessengerAPIURL = os.Getenv("MESSENGER_API_URL")
	if cfg.MessengerAPIURL == "" {
		missing = append(missing, "MESSENGER_API_URL")
	}

	cfg.MessengerAdminUser = os.Getenv("MESSENGER_ADMIN_USERNAME")
	if cfg.MessengerAdminUser == "" {
		missing = append(missing, "MESSENGER_ADMIN_USERNAME")
	}

	cfg.MessengerAdminSecret = os.Getenv("MESSENGER_ADMIN_PASSWORD")
	if cfg.MessengerAdminSecret == "" {
		missing = append(missing, "MESSENGER_ADMIN_PASSWORD")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MessengerHTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.DefaultChannelID = getEnvString("DEFAULT_CHANNEL_ID", "GENERAL")
	cfg.DBConnectRetryInterval = getEnvDuration("DB_CONNECT_RETRY_INTERVAL", time.Second)
	cfg.DBConnectMaxWait = getEnvDuration("DB_CONNECT_MAX_WAIT", 0)
	cfg.ContactSyncRate = getEnvFloat("CONTACT_SYNC_RATE", 10)
	cfg.ContactSyncBurst = getEnvInt("CONTACT_SYNC_BURST", 1)
	cfg.ServerPort = getEnvString("SERVER_PORT", "4000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
