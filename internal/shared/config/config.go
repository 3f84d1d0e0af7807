package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	SMTP      SMTPConfig
	RAG       RAGConfig
	Upload    UploadConfig
	HIS       HISConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig holds configuration for the semantic answer cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), which
// backs the append-only audit stream and the domain event bus.
type KurrentDBConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	VerifyTokenTTL  time.Duration
	ResetTokenTTL   time.Duration
	LockoutAttempts int
	LockoutWindow   time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string // public portal URL used in verification/reset links
	Enabled  bool
}

// RAGConfig holds configuration for the retrieval-augmented answering
// pipeline: OpenAI access, chunking, retrieval, and confidence thresholds.
type RAGConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	EmbedModel    string
	EmbedDim      int

	ChunkSize    int
	ChunkOverlap int

	RetrievalK          int // candidates fetched per query before reranking
	RerankK             int // results kept after reranking
	ConfidenceThreshold float64
	LowConfidenceNote   float64

	CacheTTL            time.Duration
	PopularCacheTTL     time.Duration
	SimilarityThreshold float64
	MaxCacheEntries     int
}

type UploadConfig struct {
	Dir         string
	MaxSizeMB   int
	ChatDocsDir string
}

// HISConfig configures the hospital information system import adapter,
// which polls an external SQL Server for patient admissions.
type HISConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	PatientTable string
	PollInterval time.Duration
}

func (h HISConfig) DSN() string {
	return fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		h.Host, h.Port, h.Database, h.User, h.Password)
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "portal"),
			Password: getEnv("DB_PASSWORD", "portal"),
			Database: getEnv("DB_NAME", "portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 1),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			AccessTokenTTL:  getEnvDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			VerifyTokenTTL:  getEnvDuration("AUTH_VERIFY_TOKEN_TTL", 48*time.Hour),
			ResetTokenTTL:   getEnvDuration("AUTH_RESET_TOKEN_TTL", 24*time.Hour),
			LockoutAttempts: getEnvInt("AUTH_LOCKOUT_ATTEMPTS", 5),
			LockoutWindow:   getEnvDuration("AUTH_LOCKOUT_WINDOW", 15*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@oncoportal.local"),
			BaseURL:  getEnv("PORTAL_BASE_URL", "http://localhost:8080"),
			Enabled:  getEnvBool("SMTP_ENABLED", false),
		},
		RAG: RAGConfig{
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			ChatModel:     getEnv("RAG_CHAT_MODEL", "gpt-3.5-turbo"),
			EmbedModel:    getEnv("RAG_EMBED_MODEL", "text-embedding-3-small"),
			EmbedDim:      getEnvInt("RAG_EMBED_DIM", 1536),

			ChunkSize:    getEnvInt("RAG_CHUNK_SIZE", 800),
			ChunkOverlap: getEnvInt("RAG_CHUNK_OVERLAP", 200),

			RetrievalK:          getEnvInt("RAG_RETRIEVAL_K", 20),
			RerankK:             getEnvInt("RAG_RERANK_K", 5),
			ConfidenceThreshold: getEnvFloat("RAG_CONFIDENCE_THRESHOLD", 0.7),
			LowConfidenceNote:   getEnvFloat("RAG_LOW_CONFIDENCE_NOTE", 0.5),

			CacheTTL:            getEnvDuration("RAG_CACHE_TTL", time.Hour),
			PopularCacheTTL:     getEnvDuration("RAG_POPULAR_CACHE_TTL", 24*time.Hour),
			SimilarityThreshold: getEnvFloat("RAG_CACHE_SIMILARITY", 0.85),
			MaxCacheEntries:     getEnvInt("RAG_MAX_CACHE_ENTRIES", 10000),
		},
		Upload: UploadConfig{
			Dir:         getEnv("UPLOAD_DIR", "./uploads"),
			MaxSizeMB:   getEnvInt("UPLOAD_MAX_SIZE_MB", 25),
			ChatDocsDir: getEnv("UPLOAD_CHAT_DOCS_DIR", "chat_documents"),
		},
		HIS: HISConfig{
			Enabled:      getEnvBool("HIS_ENABLED", false),
			Host:         getEnv("HIS_DB_HOST", "localhost"),
			Port:         getEnvInt("HIS_DB_PORT", 1433),
			User:         getEnv("HIS_DB_USER", ""),
			Password:     getEnv("HIS_DB_PASSWORD", ""),
			Database:     getEnv("HIS_DB_NAME", "hospital"),
			PatientTable: getEnv("HIS_PATIENT_TABLE", "dbo.Patients"),
			PollInterval: getEnvDuration("HIS_POLL_INTERVAL", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
