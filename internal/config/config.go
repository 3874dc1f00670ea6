package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                     string
	Env                      string
	DatabaseDriver           string
	DatabaseDSN              string
	JWTSecret                string
	AccessTokenTTLMinutes    int
	RefreshTokenTTLDays      int
	RedisURL                 string
	PersonaCacheTTLSeconds   int
	GenerationURL            string
	GenerationAPIKey         string
	GenerationModel          string
	GenerationTimeoutSeconds int
	HistoryLimit             int
	LogLevel                 string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法值回退默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Load 读取环境变量，开发环境下会先加载 .env 文件（若存在）。
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                     getenv("APP_PORT", "8080"),
		Env:                      getenv("APP_ENV", "dev"),
		DatabaseDriver:           getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:              getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=personachat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:                getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes:    getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:      getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:                 os.Getenv("REDIS_URL"),
		PersonaCacheTTLSeconds:   getenvInt("PERSONA_CACHE_TTL_SECONDS", 300),
		GenerationURL:            os.Getenv("GENERATION_URL"),
		GenerationAPIKey:         os.Getenv("GENERATION_API_KEY"),
		GenerationModel:          getenv("GENERATION_MODEL", "gpt-4o-mini"),
		GenerationTimeoutSeconds: getenvInt("GENERATION_TIMEOUT_SECONDS", 30),
		HistoryLimit:             getenvInt("HISTORY_LIMIT", 50),
		LogLevel:                 getenv("LOG_LEVEL", "info"),
	}
}

// Validate 在启动时拦截明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}

// IsDev 返回是否为开发环境。
func (c Config) IsDev() bool { return c.Env == "dev" }
