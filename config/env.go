package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yoockh/yoodocs/internal/utils"
)

// Config is the server configuration read from the environment.
// Datastore URIs are read by the Init* functions themselves.
type Config struct {
	Port string

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	LLMProvider   string // gemini|vertex
	LLMModel      string
	GoogleAPIKey  string
	GCPProject    string
	GCPLocation   string
	Temperature   float64
	MaxOutputToks int

	EmbeddingProvider string // hashing|gemini
	EmbeddingModel    string
	EmbeddingDims     int
	EmbedRPS          float64

	IndexPath          string
	ChunkSize          int
	ChunkOverlap       int
	ChunkStrategy      string // window|recursive
	RetrievalK         int
	MaxRetrievalK      int
	RetrievalOverFetch int
	MMRLambda          float64
	HistoryWindow      int
	SuppressDuplicates bool

	StorageBackend string // local|gcs
	UploadDir      string
	GCSBucket      string
	MaxUploadMB    int

	RateLimitPerMinute int
	IndexWorkers       int
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Port:      envStr("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: envStr("JWT_ISSUER", "yoodocs"),

		LLMProvider:  strings.ToLower(envStr("LLM_PROVIDER", "gemini")),
		LLMModel:     envStr("LLM_MODEL", "gemini-2.0-flash"),
		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		GCPProject:   os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GCPLocation:  envStr("GOOGLE_CLOUD_LOCATION", "us-central1"),

		EmbeddingProvider: strings.ToLower(envStr("EMBEDDING_PROVIDER", "hashing")),
		EmbeddingModel:    envStr("EMBEDDING_MODEL", "text-embedding-004"),

		IndexPath:     envStr("INDEX_PATH", "data/vector_index.db"),
		ChunkStrategy: strings.ToLower(envStr("CHUNK_STRATEGY", "window")),

		StorageBackend: strings.ToLower(envStr("STORAGE_BACKEND", "local")),
		UploadDir:      envStr("UPLOAD_DIR", "data/uploads"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
	}

	var errs []error
	ttlMinutes := envInt("JWT_TTL_MINUTES", 1440, &errs)
	c.JWTTTL = time.Duration(ttlMinutes) * time.Minute
	c.Temperature = envFloat("LLM_TEMPERATURE", 0.2, &errs)
	c.MaxOutputToks = envInt("LLM_MAX_OUTPUT_TOKENS", 1024, &errs)
	c.EmbeddingDims = envInt("EMBEDDING_DIMS", 384, &errs)
	c.EmbedRPS = envFloat("EMBED_RPS", 10, &errs)
	c.ChunkSize = envInt("CHUNK_SIZE", 800, &errs)
	c.ChunkOverlap = envInt("CHUNK_OVERLAP", 200, &errs)
	c.RetrievalK = envInt("RETRIEVAL_K", 5, &errs)
	c.MaxRetrievalK = envInt("MAX_RETRIEVAL_K", 50, &errs)
	c.RetrievalOverFetch = envInt("RETRIEVAL_OVERFETCH", 4, &errs)
	c.MMRLambda = envFloat("MMR_LAMBDA", 0.5, &errs)
	c.HistoryWindow = envInt("HISTORY_WINDOW", 6, &errs)
	c.SuppressDuplicates = envBool("SUPPRESS_DUPLICATES", true, &errs)
	c.MaxUploadMB = envInt("MAX_UPLOAD_MB", 10, &errs)
	c.RateLimitPerMinute = envInt("RATE_LIMIT_PER_MINUTE", 60, &errs)
	c.IndexWorkers = envInt("INDEX_WORKERS", 3, &errs)

	if len(errs) > 0 {
		return nil, utils.E(utils.CodeConfiguration, "config.Load", "invalid environment", errors.Join(errs...))
	}
	return c, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var problems []string

	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.JWTTTL <= 0 {
		problems = append(problems, "JWT_TTL_MINUTES must be positive")
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		problems = append(problems, fmt.Sprintf("CHUNK_OVERLAP (%d) must be >= 0 and below CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize))
	}
	if c.ChunkStrategy != "window" && c.ChunkStrategy != "recursive" {
		problems = append(problems, "CHUNK_STRATEGY must be window or recursive")
	}
	if c.RetrievalK <= 0 || c.RetrievalOverFetch <= 0 {
		problems = append(problems, "RETRIEVAL_K and RETRIEVAL_OVERFETCH must be positive")
	}
	if c.MaxRetrievalK < c.RetrievalK {
		problems = append(problems, fmt.Sprintf("MAX_RETRIEVAL_K (%d) must be at least RETRIEVAL_K (%d)", c.MaxRetrievalK, c.RetrievalK))
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		problems = append(problems, "MMR_LAMBDA must be within [0,1]")
	}
	if c.EmbeddingDims <= 0 {
		problems = append(problems, "EMBEDDING_DIMS must be positive")
	}

	switch c.LLMProvider {
	case "gemini":
		if c.GoogleAPIKey == "" {
			problems = append(problems, "GOOGLE_API_KEY is required for LLM_PROVIDER=gemini")
		}
	case "vertex":
		if c.GCPProject == "" {
			problems = append(problems, "GOOGLE_CLOUD_PROJECT is required for LLM_PROVIDER=vertex")
		}
	default:
		problems = append(problems, "LLM_PROVIDER must be gemini or vertex")
	}

	switch c.EmbeddingProvider {
	case "hashing":
	case "gemini":
		if c.GoogleAPIKey == "" && c.GCPProject == "" {
			problems = append(problems, "EMBEDDING_PROVIDER=gemini needs GOOGLE_API_KEY or GOOGLE_CLOUD_PROJECT")
		}
	default:
		problems = append(problems, "EMBEDDING_PROVIDER must be hashing or gemini")
	}

	switch c.StorageBackend {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			problems = append(problems, "GCS_BUCKET is required for STORAGE_BACKEND=gcs")
		}
	default:
		problems = append(problems, "STORAGE_BACKEND must be local or gcs")
	}

	if len(problems) > 0 {
		return utils.E(utils.CodeConfiguration, op, strings.Join(problems, "; "), nil)
	}
	return nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
