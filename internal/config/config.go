package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"presswise"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"presswise"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Providers
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	FallbackBaseURL  string `envconfig:"FALLBACK_BASE_URL" default:"https://api.openai.com/v1"`
	FallbackAPIKey   string `envconfig:"FALLBACK_API_KEY"`
	FallbackModel    string `envconfig:"FALLBACK_MODEL" default:"gpt-4o-mini"`
	ProviderTimeoutS int    `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"60"`

	// Chunking
	ChunkMaxChars int `envconfig:"CHUNK_MAX_CHARS" default:"1600"`
	ChunkOverlap  int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Retrieval defaults
	QueryMaxChunks           int     `envconfig:"QUERY_MAX_CHUNKS" default:"5"`
	QuerySimilarityThreshold float32 `envconfig:"QUERY_SIMILARITY_THRESHOLD" default:"0.65"`

	// FinOps limits (per organization, current billing period, USD)
	FinOpsSoftLimit float64 `envconfig:"FINOPS_SOFT_LIMIT" default:"50"`
	FinOpsHardLimit float64 `envconfig:"FINOPS_HARD_LIMIT" default:"100"`

	// Webhook verification
	WebhookSecret      string `envconfig:"WEBHOOK_SECRET"`
	WebhookMaxSkewSecs int    `envconfig:"WEBHOOK_MAX_SKEW_SECONDS" default:"300"`

	// API rate limiting (per organization)
	QueryRatePerSecond float64 `envconfig:"QUERY_RATE_PER_SECOND" default:"2"`
	QueryRateBurst     int     `envconfig:"QUERY_RATE_BURST" default:"5"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkOverlap >= c.ChunkMaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_MAX_CHARS", ErrMissingRequired)
	}
	if c.FinOpsSoftLimit > c.FinOpsHardLimit {
		return fmt.Errorf("%w: FINOPS_SOFT_LIMIT must not exceed FINOPS_HARD_LIMIT", ErrMissingRequired)
	}
	return nil
}
