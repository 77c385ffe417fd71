package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxSessionTTL はセッショントークンの有効期間の上限。
// Kubiosのid_tokenの有効期間（1時間）を超えないようにする。
const MaxSessionTTL = time.Hour

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Kubios
	KubiosAPIURI      string
	KubiosLoginURL    string
	KubiosClientID    string
	KubiosRedirectURI string
	KubiosUserAgent   string
	KubiosTimeout     time.Duration
	KubiosSSRFGuard   bool

	// Session (JWT)
	JWTSecret    string
	JWTExpiresIn time.Duration

	// Rate Limit (req/min)
	RateLimitLogin   int
	RateLimitGeneral int

	// Drafts
	DraftRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort     string
	RequestTimeout time.Duration

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.KubiosAPIURI = strings.TrimRight(required("KUBIOS_API_URI"), "/")
	cfg.KubiosLoginURL = required("KUBIOS_LOGIN_URL")
	cfg.KubiosClientID = required("KUBIOS_CLIENT_ID")
	cfg.KubiosRedirectURI = required("KUBIOS_REDIRECT_URI")
	cfg.KubiosUserAgent = required("KUBIOS_USER_AGENT")
	cfg.JWTSecret = required("JWT_SECRET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTExpiresIn = getEnvTTL("JWT_EXPIRES_IN", MaxSessionTTL)
	if cfg.JWTExpiresIn <= 0 || cfg.JWTExpiresIn > MaxSessionTTL {
		cfg.JWTExpiresIn = MaxSessionTTL
	}
	cfg.KubiosTimeout = getEnvDuration("KUBIOS_TIMEOUT", 10*time.Second)
	cfg.KubiosSSRFGuard = getEnvBool("KUBIOS_SSRF_GUARD", true)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.DraftRetentionDays = getEnvInt("DRAFT_RETENTION_DAYS", 90)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

// getEnvTTL はGoのduration形式（"1h"）と秒数（"3600"）の両方を受け付ける。
func getEnvTTL(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return getEnvDuration(key, defaultVal)
}
