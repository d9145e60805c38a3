package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	LogLevel string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini / embeddings configuration
	GeminiAPIKey          string
	GeminiTier            string
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	CoachModel            string // e.g., "gemini-2.0-flash"
	EmbedCharLimit        int

	// Vector store
	VectorDimensions    int
	VectorSearchEnabled bool
	VectorIndexName     string
	CompressPassages    bool

	// Chunking
	MinChunkChars int
	MaxChunkChars int

	// Retrieval
	SimThreshold      float64
	RetrievalTopK     int
	MaxAdviceSections int

	// Pipeline retry policy
	PipelineMaxRetries  int
	PipelineBaseDelayMs int
	PipelineMaxDelayMs  int
	PipelineBackoffBase float64
	StageCacheTTLMin    int

	// Normalized titles never chunked; locale-specific lists are plain config
	ExcludedTitles []string

	// Ingestion
	IngestDir          string
	IngestSweepMinutes int
	ReportDir          string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/family_coach"),
		DBName:   getEnv("DB_NAME", "family_coach"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Gemini / embeddings
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiTier:            getEnv("GEMINI_TIER", "free"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		CoachModel:            getEnv("COACH_MODEL", "gemini-2.0-flash"),
		EmbedCharLimit:        getEnvInt("EMBED_CHAR_LIMIT", 8000),

		// Vector store
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),
		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "passages_vector"),
		CompressPassages:    getEnvBool("COMPRESS_PASSAGES", false),

		// Chunking
		MinChunkChars: getEnvInt("MIN_CHUNK_CHARS", 600),
		MaxChunkChars: getEnvInt("MAX_CHUNK_CHARS", 800),

		// Retrieval
		SimThreshold:      getEnvFloat64("SIM_THRESHOLD", 0.45),
		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", 50),
		MaxAdviceSections: getEnvInt("MAX_ADVICE_SECTIONS", 6),

		// Pipeline retry policy
		PipelineMaxRetries:  getEnvInt("PIPELINE_MAX_RETRIES", 3),
		PipelineBaseDelayMs: getEnvInt("PIPELINE_BASE_DELAY_MS", 1000),
		PipelineMaxDelayMs:  getEnvInt("PIPELINE_MAX_DELAY_MS", 30000),
		PipelineBackoffBase: getEnvFloat64("PIPELINE_BACKOFF_BASE", 2.0),
		StageCacheTTLMin:    getEnvInt("STAGE_CACHE_TTL_MIN", 1440),

		// TOC exclusion vocabulary
		ExcludedTitles: splitNonEmpty(getEnv("TOC_EXCLUDED_TITLES",
			"table of contents,contents,front matter,prologue,foreword,preface,epilogue,afterword,acknowledgments,acknowledgements,about the author,index,bibliography,references,copyright,dedication")),

		// Ingestion
		IngestDir:          getEnv("INGEST_DIR", "./ingest"),
		IngestSweepMinutes: getEnvInt("INGEST_SWEEP_MINUTES", 15),
		ReportDir:          getEnv("REPORT_DIR", "./reports"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.MinChunkChars <= 0 || cfg.MaxChunkChars <= cfg.MinChunkChars {
		return nil, fmt.Errorf("invalid chunk bounds: MIN_CHUNK_CHARS=%d MAX_CHUNK_CHARS=%d", cfg.MinChunkChars, cfg.MaxChunkChars)
	}

	if cfg.SimThreshold < 0 || cfg.SimThreshold > 1 {
		return nil, fmt.Errorf("SIM_THRESHOLD must be in [0,1], got %.2f", cfg.SimThreshold)
	}

	return cfg, nil
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
