package platform

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized environment option, read once at startup.
// Nothing else in the process touches os.Getenv.
type Config struct {
	Port string

	DatabaseDSN string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	AccessSecret string

	SigningSecret    string
	WebhookTolerance time.Duration

	PromptMinChars int

	LogPath string
}

func LoadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8080"),
		DatabaseDSN:      databaseDSN(),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:         envOr("LLM_MODEL", "qwen-turbo"),
		LLMTimeout:       envSecondsOr("LLM_TIMEOUT_SECONDS", 60),
		AccessSecret:     os.Getenv("ACCESS_SECRET"),
		SigningSecret:    os.Getenv("SIGNING_SECRET"),
		WebhookTolerance: envSecondsOr("WEBHOOK_TOLERANCE_SECONDS", 300),
		PromptMinChars:   envIntOr("PROMPT_MIN_CHARS", 5),
		LogPath:          envOr("LOG_PATH", "./log"),
	}
}

// databaseDSN prefers a full connection string and otherwise assembles
// one from the individual SQL_* variables.
func databaseDSN() string {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("SQL_USER"),
		os.Getenv("SQL_PASSWORD"),
		os.Getenv("SQL_HOST"),
		os.Getenv("SQL_PORT"),
		os.Getenv("SQL_DBNAME"),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSecondsOr(key string, fallback int) time.Duration {
	return time.Duration(envIntOr(key, fallback)) * time.Second
}
