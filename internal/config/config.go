package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Streams  StreamsConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string // empty uses the migrations compiled into the binary
}

type RedisConfig struct {
	Host         string
	Port         int
	AddrOverride string // REDIS_ADDR, wins over host/port when set
	Password     string
	DB           int
}

func (c RedisConfig) Addr() string {
	if c.AddrOverride != "" {
		return c.AddrOverride
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type AuthConfig struct {
	JWTSecret string // empty disables the bearer guard
}

type LLMConfig struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	GoogleAPIKey     string
	GeminiBaseURL    string
	AnthropicKey     string
	OllamaURL        string
	HuggingFaceToken string
	HuggingFaceURL   string
	HFLoadRetries    int
	HFLoadBackoff    time.Duration
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
}

type StorageConfig struct {
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

// StreamsConfig tunes the request/response plumbing.
type StreamsConfig struct {
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	ScanBlock       time.Duration
	ScanBatch       int
	ReadBlock       time.Duration
	RetryDelay      time.Duration
	ReclaimMinIdle  time.Duration // 0 disables reclaiming
	ReclaimInterval time.Duration
	ResponseTTL     time.Duration
	SweepSpec       string
}

type WorkerConfig struct {
	Kinds           []string
	ConsumerName    string
	TaskConcurrency int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisPort, err := getEnvInt("REDIS_PORT", 6379)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	hfRetries, err := getEnvInt("HUGGINGFACE_LOAD_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid HUGGINGFACE_LOAD_RETRIES: %w", err)
	}

	scanBatch, err := getEnvInt("STREAM_SCAN_BATCH", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_SCAN_BATCH: %w", err)
	}

	rateBurst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	rateRPS, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "100"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	maxUploadMB, err := getEnvInt("MAX_UPLOAD_MB", 32)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	taskConcurrency, err := getEnvInt("WORKER_TASK_CONCURRENCY", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_TASK_CONCURRENCY: %w", err)
	}

	hfBackoff, err := getEnvDuration("HUGGINGFACE_LOAD_BACKOFF", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid HUGGINGFACE_LOAD_BACKOFF: %w", err)
	}

	streams := StreamsConfig{
		ScanBatch: scanBatch,
		SweepSpec: getEnv("STREAM_SWEEP_SPEC", "@every 5m"),
	}
	for _, d := range []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"STREAM_WAIT_TIMEOUT", 30 * time.Second, &streams.WaitTimeout},
		{"STREAM_POLL_INTERVAL", 100 * time.Millisecond, &streams.PollInterval},
		{"STREAM_SCAN_BLOCK", time.Second, &streams.ScanBlock},
		{"STREAM_READ_BLOCK", 2 * time.Second, &streams.ReadBlock},
		{"STREAM_RETRY_DELAY", time.Second, &streams.RetryDelay},
		{"STREAM_RECLAIM_MIN_IDLE", 0, &streams.ReclaimMinIdle},
		{"STREAM_RECLAIM_INTERVAL", 30 * time.Second, &streams.ReclaimInterval},
		{"STREAM_RESPONSE_TTL", 10 * time.Minute, &streams.ResponseTTL},
	} {
		v, err := getEnvDuration(d.key, d.fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
			RateLimitRPS:   rateRPS,
			RateLimitBurst: rateBurst,
			MaxUploadBytes: int64(maxUploadMB) << 20,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         redisPort,
			AddrOverride: getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
			GeminiBaseURL:    getEnv("GEMINI_BASE_URL", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			HuggingFaceToken: getEnv("HUGGINGFACE_TOKEN", ""),
			HuggingFaceURL:   getEnv("HUGGINGFACE_URL", "https://api-inference.huggingface.co/models"),
			HFLoadRetries:    hfRetries,
			HFLoadBackoff:    hfBackoff,
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "huggingface"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "huggingface/HuggingFaceH4/zephyr-7b-beta"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
		},
		Streams: streams,
		Worker: WorkerConfig{
			Kinds:           splitList(getEnv("WORKER_KINDS", "summarize,answer-question")),
			ConsumerName:    getEnv("WORKER_CONSUMER", ""),
			TaskConcurrency: taskConcurrency,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports settings that would make the streams layer misbehave.
// Work kind names are checked by the worker binary, which owns that mapping.
func (c *Config) Validate() error {
	var problems []string
	if c.Streams.WaitTimeout <= 0 {
		problems = append(problems, "STREAM_WAIT_TIMEOUT must be positive")
	}
	if c.Streams.ReadBlock <= 0 {
		problems = append(problems, "STREAM_READ_BLOCK must be positive")
	}
	if c.Streams.ScanBatch <= 0 {
		problems = append(problems, "STREAM_SCAN_BATCH must be positive")
	}
	if c.Streams.ReclaimMinIdle > 0 && c.Streams.ReclaimInterval <= 0 {
		problems = append(problems, "STREAM_RECLAIM_INTERVAL must be positive when reclaiming is enabled")
	}
	// A reclaimed entry is one a sibling may still be working on, and its
	// caller has given up once the wait timeout passes.
	if c.Streams.ReclaimMinIdle > 0 && c.Streams.ReclaimMinIdle <= c.Streams.WaitTimeout {
		problems = append(problems, "STREAM_RECLAIM_MIN_IDLE must exceed STREAM_WAIT_TIMEOUT")
	}
	// The sweeper must never delete a response a waiter can still match.
	if c.Streams.ResponseTTL <= c.Streams.WaitTimeout {
		problems = append(problems, "STREAM_RESPONSE_TTL must exceed STREAM_WAIT_TIMEOUT")
	}
	if len(c.Worker.Kinds) == 0 {
		problems = append(problems, "WORKER_KINDS must name at least one kind")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
