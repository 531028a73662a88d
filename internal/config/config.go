package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	DataDir             string
	LogLevel            string
	NatsURL             string
	NatsToken           string
	DatabaseURL         string
	Neo4jURI            string
	Neo4jUser           string
	Neo4jPassword       string
	Neo4jDatabase       string
	AnthropicAPIKey     string
	AnthropicModel      string
	EmbeddingURL        string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDim        int
	ClustererURL        string
	SimilarityThreshold float64
	BatchSize           int
	MaxChunkChars       int
	RetryAttempts       int
	RetryDelay          time.Duration
}

func Load() Config {
	return Config{
		Port:                envInt("CHATMIND_PORT", 8760),
		DataDir:             envStr("CHATMIND_DATA_DIR", "data"),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		NatsURL:             envStr("NATS_URL", ""),
		NatsToken:           envStr("NATS_TOKEN", ""),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		Neo4jURI:            envStr("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:           envStr("NEO4J_USER", "neo4j"),
		Neo4jPassword:       envStr("NEO4J_PASSWORD", ""),
		Neo4jDatabase:       envStr("NEO4J_DATABASE", ""),
		AnthropicAPIKey:     envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      envStr("CHATMIND_MODEL", "claude-sonnet-4-20250514"),
		EmbeddingURL:        envStr("EMBEDDING_URL", "http://localhost:8080"),
		EmbeddingAPIKey:     envStr("EMBEDDING_API_KEY", ""),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:        envInt("EMBEDDING_DIM", 1536),
		ClustererURL:        envStr("CLUSTERER_URL", "http://localhost:8090"),
		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.25),
		BatchSize:           envInt("CHATMIND_BATCH_SIZE", 20),
		MaxChunkChars:       envInt("CHATMIND_MAX_CHUNK_CHARS", 2000),
		RetryAttempts:       envInt("CHATMIND_RETRY_ATTEMPTS", 3),
		RetryDelay:          time.Duration(envInt("CHATMIND_RETRY_DELAY_MS", 2000)) * time.Millisecond,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
