package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr           string
	DBPath         string
	ObjectDir      string
	BaseURL        string
	MaxObjectBytes int64
	Version        string
	Commit         string
	BuildTime      string
	RateLimits     RateLimits
}

type RateLimits struct {
	RegisterPerMinute int
	ReceiptPerMinute  int
}

func Load() Config {
	addr := envString("TAGBOOK_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	return Config{
		Addr:           addr,
		DBPath:         envString("TAGBOOK_DB", "tagbook.db"),
		ObjectDir:      envString("TAGBOOK_OBJECT_DIR", "objects"),
		BaseURL:        envString("TAGBOOK_BASE_URL", "http://localhost:8080"),
		MaxObjectBytes: envInt64("TAGBOOK_MAX_OBJECT_BYTES", 2<<20),
		Version:        envString("TAGBOOK_VERSION", "dev"),
		Commit:         envString("TAGBOOK_COMMIT", ""),
		BuildTime:      envString("TAGBOOK_BUILD_TIME", ""),
		RateLimits: RateLimits{
			RegisterPerMinute: envInt("TAGBOOK_RL_REGISTER_PER_MIN", 10),
			ReceiptPerMinute:  envInt("TAGBOOK_RL_RECEIPT_PER_MIN", 60),
		},
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
