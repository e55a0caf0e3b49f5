package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env  string
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	OllamaURL       string
	CompletionModel string
	EmbeddingModel  string
	IndexerURL      string
	RedisAddr       string

	UseHyDE        bool
	UseMultiQuery  bool
	MultiQueryAlts int
	TopK           int
	UseRRF         bool
	MinConfidence  float64
	MaxCtxChars    int
	StrictCitation bool

	AnswerCacheSize   int
	AnswerCacheTTLSec int
	LLMCacheSize      int
	LLMCacheTTLSec    int
	LLMRateLimitRPS   float64
	LLMRetryAttempts  int
	CheckpointTTLSec  int
	HTTPTimeoutSec    int
}

func Load() *Config {
	return &Config{
		Env:        getEnv("ENV", "development"),
		Port:       getEnv("PORT", "9020"),
		DBHost:     getEnv("DB_HOST", "incident-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "incident_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "incident_password"),
		DBName:     getEnv("DB_NAME", "incident_db"),

		OllamaURL:       getEnv("OLLAMA_URL", "http://ollama:11434"),
		CompletionModel: getEnv("COMPLETION_MODEL", "qwen2.5:7b"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "embeddinggemma"),
		IndexerURL:      getEnv("INDEXER_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),

		UseHyDE:        getEnvBool("RAG_USE_HYDE", false),
		UseMultiQuery:  getEnvBool("RAG_USE_MULTI_QUERY", false),
		MultiQueryAlts: getEnvInt("RAG_MULTI_QUERY_ALTS", 2),
		TopK:           getEnvInt("RAG_TOP_K", 8),
		UseRRF:         getEnvBool("RAG_USE_RRF", true),
		MinConfidence:  getEnvFloat("RAG_MIN_CONFIDENCE", 0.7),
		MaxCtxChars:    getEnvInt("RAG_MAX_CTX_CHARS", 6000),
		StrictCitation: getEnvBool("RAG_STRICT_CITATION", true),

		AnswerCacheSize:   getEnvInt("ANSWER_CACHE_SIZE", 256),
		AnswerCacheTTLSec: getEnvInt("ANSWER_CACHE_TTL_SEC", 300),
		LLMCacheSize:      getEnvInt("LLM_CACHE_SIZE", 512),
		LLMCacheTTLSec:    getEnvInt("LLM_CACHE_TTL_SEC", 600),
		LLMRateLimitRPS:   getEnvFloat("LLM_RATE_LIMIT_RPS", 5),
		LLMRetryAttempts:  getEnvInt("LLM_RETRY_ATTEMPTS", 3),
		CheckpointTTLSec:  getEnvInt("CHECKPOINT_TTL_SEC", 3600),
		HTTPTimeoutSec:    getEnvInt("HTTP_TIMEOUT_SEC", 120),
	}
}

// DSN assembles the Postgres connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
