package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the episode generator service.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	Queue   QueueConfig
	Cost    CostConfig
	Quality QualityConfig

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	TTSBaseURL     string
	TTSAPIKey      string
	TTSModel       string
	TTSVoice       string
	TTSFormat      string
	ScrapeTimeout  time.Duration
	ScrapeMaxBytes int64

	OutputDir      string
	PublicBaseURL  string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3PathStyle    bool
	S3PublicURL    string
	ArtworkSize    int
	ArtworkEnabled bool

	EnqueueRateCapacity int
	EnqueueRateRefill   float64
}

// QueueConfig controls scheduling. These are the fields updateConfig may patch.
type QueueConfig struct {
	MaxConcurrentJobs int
	MaxRetries        int
	PollingInterval   time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	StageTimeout      time.Duration
	StatsWindow       time.Duration
	DefaultTarget     int
	DefaultStyle      string
	MaxContentLength  int
}

// CostConfig holds spend ceilings and provider pricing.
type CostConfig struct {
	DailyLimit            float64
	PerJobLimit           float64
	DayLocation           string
	CostPerThousandTokens float64
	CostPerCharacter      float64
	UploadFlatFee         float64
	UploadCostPerMB       float64
	ScrapeFlatFee         float64
}

// QualityConfig holds the minimum summary quality scores.
type QualityConfig struct {
	MinCoherence   float64
	MinRelevance   float64
	MinReadability float64
}

// Load reads configuration from environment variables with sane defaults for local development.
// A .env file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		Queue: QueueConfig{
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 3),
			MaxRetries:        getEnvInt("MAX_RETRIES", 3),
			PollingInterval:   getEnvDuration("POLLING_INTERVAL", 5*time.Second),
			BackoffInitial:    getEnvDuration("BACKOFF_INITIAL", 5*time.Second),
			BackoffMax:        getEnvDuration("BACKOFF_MAX", 5*time.Minute),
			StageTimeout:      getEnvDuration("STAGE_TIMEOUT", 10*time.Minute),
			StatsWindow:       getEnvDuration("STATS_WINDOW", 24*time.Hour),
			DefaultTarget:     getEnvInt("SUMMARY_TARGET_WORDS", 150),
			DefaultStyle:      getEnv("SUMMARY_STYLE", "conversational"),
			MaxContentLength:  getEnvInt("MAX_CONTENT_LENGTH", 50000),
		},
		Cost: CostConfig{
			DailyLimit:            getEnvFloat("DAILY_COST_LIMIT", 50),
			PerJobLimit:           getEnvFloat("PER_JOB_COST_LIMIT", 5),
			DayLocation:           getEnv("COST_DAY_LOCATION", "UTC"),
			CostPerThousandTokens: getEnvFloat("COST_PER_1K_TOKENS", 0.002),
			CostPerCharacter:      getEnvFloat("COST_PER_TTS_CHAR", 0.000015),
			UploadFlatFee:         getEnvFloat("UPLOAD_FLAT_FEE", 0.00001),
			UploadCostPerMB:       getEnvFloat("UPLOAD_COST_PER_MB", 0.0001),
			ScrapeFlatFee:         getEnvFloat("SCRAPE_FLAT_FEE", 0),
		},
		Quality: QualityConfig{
			MinCoherence:   getEnvFloat("MIN_COHERENCE", 0.3),
			MinRelevance:   getEnvFloat("MIN_RELEVANCE", 0.3),
			MinReadability: getEnvFloat("MIN_READABILITY", 0.3),
		},
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1/chat/completions"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		TTSBaseURL:     getEnv("TTS_BASE_URL", "https://api.openai.com/v1/audio/speech"),
		TTSAPIKey:      getEnv("TTS_API_KEY", ""),
		TTSModel:       getEnv("TTS_MODEL", "tts-1"),
		TTSVoice:       getEnv("TTS_VOICE", "alloy"),
		TTSFormat:      getEnv("TTS_FORMAT", "mp3"),
		ScrapeTimeout:  getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
		ScrapeMaxBytes: int64(getEnvInt("SCRAPE_MAX_BYTES", 5*1024*1024)),
		OutputDir:      getEnv("OUTPUT_DIR", "./output"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3PathStyle:    getEnvBool("S3_PATH_STYLE", false),
		S3PublicURL:    getEnv("S3_PUBLIC_URL", ""),
		ArtworkSize:    getEnvInt("ARTWORK_SIZE", 1400),
		ArtworkEnabled: getEnvBool("ARTWORK_ENABLED", true),

		EnqueueRateCapacity: getEnvInt("ENQUEUE_RATE_CAPACITY", 30),
		EnqueueRateRefill:   getEnvFloat("ENQUEUE_RATE_REFILL", 0.5),
	}
}

// Location resolves the time zone used for the daily spend boundary.
func (c CostConfig) Location() *time.Location {
	if c.DayLocation == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.DayLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
