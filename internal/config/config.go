package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// 开发环境默认值，非 dev 环境启动时会被 Validate 拒绝。
const (
	DefaultJWTSecret = "dev-secret-change-me"
	// DefaultCipherKey 是 32 字节全零密钥的 base64，仅供本地调试。
	DefaultCipherKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	CipherKey             string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	HistoryCacheTTL       time.Duration
	SendTimeout           time.Duration
	PersistTimeout        time.Duration
	MaxMessageBytes       int64
	MessagesPerSecond     float64
	MessageBurst          int
	ShutdownTimeout       time.Duration
	CORSAllowedOrigins    []string
}

var defaults = map[string]interface{}{
	"app_port":                 "8080",
	"app_env":                  "dev",
	"log_level":                "info",
	"database_driver":          "postgres",
	"database_dsn":             "host=localhost user=postgres password=postgres dbname=encchat port=5432 sslmode=disable TimeZone=UTC",
	"jwt_secret":               DefaultJWTSecret,
	"access_token_ttl_minutes": 60,
	"refresh_token_ttl_days":   7,
	"cipher_key":               DefaultCipherKey,
	"redis_addr":               "",
	"redis_password":           "",
	"redis_db":                 0,
	"history_cache_ttl":        "30s",
	"send_timeout":             "2s",
	"persist_timeout":          "5s",
	"max_message_bytes":        64 << 10,
	"messages_per_second":      10,
	"message_burst":            20,
	"shutdown_timeout":         "10s",
	"cors_allowed_origins":     "",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()

	// 存在 .env 时读取，环境变量优先。
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = ".env"
	}
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			// 文件存在却读不了多半是部署错误，必须留下痕迹。
			log.Error().Err(err).Str("path", path).Msg("config file ignored, using env and defaults")
		}
	}
	return v
}

// splitList 解析逗号分隔的列表，忽略空项。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func positiveDuration(v *viper.Viper, key string) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}

func Load() Config {
	v := newViper()

	rps := v.GetFloat64("messages_per_second")
	if rps <= 0 {
		rps = float64(defaults["messages_per_second"].(int))
	}
	redisDB := v.GetInt("redis_db")
	if redisDB < 0 {
		redisDB = 0
	}
	return Config{
		Port:                  v.GetString("app_port"),
		Env:                   v.GetString("app_env"),
		LogLevel:              v.GetString("log_level"),
		DatabaseDriver:        strings.ToLower(v.GetString("database_driver")),
		DatabaseDSN:           v.GetString("database_dsn"),
		JWTSecret:             v.GetString("jwt_secret"),
		AccessTokenTTLMinutes: positiveInt(v, "access_token_ttl_minutes"),
		RefreshTokenTTLDays:   positiveInt(v, "refresh_token_ttl_days"),
		CipherKey:             v.GetString("cipher_key"),
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               redisDB,
		HistoryCacheTTL:       positiveDuration(v, "history_cache_ttl"),
		SendTimeout:           positiveDuration(v, "send_timeout"),
		PersistTimeout:        positiveDuration(v, "persist_timeout"),
		MaxMessageBytes:       int64(positiveInt(v, "max_message_bytes")),
		MessagesPerSecond:     rps,
		MessageBurst:          positiveInt(v, "message_burst"),
		ShutdownTimeout:       positiveDuration(v, "shutdown_timeout"),
		CORSAllowedOrigins:    splitList(v.GetString("cors_allowed_origins")),
	}
}

// Validate 在启动前检查配置，生产环境禁止使用开发默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	key, err := base64.StdEncoding.DecodeString(cfg.CipherKey)
	if err != nil || len(key) != 32 {
		return errors.New("config: CIPHER_KEY must be 32 bytes, base64 encoded")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == DefaultJWTSecret {
			return errors.New("config: default JWT_SECRET is only allowed in dev")
		}
		if cfg.CipherKey == DefaultCipherKey {
			return errors.New("config: default CIPHER_KEY is only allowed in dev")
		}
	}
	return nil
}
