package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogLevel string

	// Scheduler knobs.
	TickInterval time.Duration
	LeaseTTL     time.Duration

	// Email channel.
	SendGridAPIKey string
	SenderEmail    string
	SenderName     string
	StaticLinks    []string
	SendRatePerSec int

	// Optional "other" channel (Telegram announce).
	TelegramToken  string
	TelegramChatID int64
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		LogLevel:             getenv("LOG_LEVEL", "info"),
		TickInterval:         getenvDuration("TICK_INTERVAL", 60*time.Second),
		LeaseTTL:             getenvDuration("LEASE_TTL", 5*time.Minute),
		SendGridAPIKey:       mustGetenv("SENDGRID_API_KEY"),
		SenderEmail:          mustGetenv("SENDER_EMAIL"),
		SenderName:           getenv("SENDER_NAME", ""),
		SendRatePerSec:       getenvInt("SEND_RATE_PER_SEC", 2),
		TelegramToken:        getenv("TELEGRAM_TOKEN", ""),
	}

	cfg.CORSAllowedOrigins = splitList(getenv("CORS_ALLOWED_ORIGINS", ""))
	cfg.StaticLinks = splitList(getenv("STATIC_LINKS", ""))

	if v := getenv("TELEGRAM_CHAT_ID", ""); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic("invalid TELEGRAM_CHAT_ID: " + v)
		}
		cfg.TelegramChatID = id
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic("invalid int env " + key + ": " + v)
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic("invalid duration env " + key + ": " + v)
	}
	return d
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}
