// Package config loads RelayCore's runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every configuration knob consumed by the pipeline and its
// subsystems.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	RulesFile string

	Steering SteeringConfig
	Queue    QueueConfig
	Circuit  CircuitConfig
	Cache    CacheConfig
	Semantic SemanticCacheConfig
	Budget   BudgetConfig

	ProviderTimeoutSecs int

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	NeuroWeaverEnabled  bool
	NeuroWeaverEndpoint string
}

// SteeringConfig mirrors the steering engine's cost_constraints block.
type SteeringConfig struct {
	DailyBudgetUSD     float64
	PerRequestMaxUSD   float64
	EmergencyThreshold float64
}

// QueueConfig mirrors the priority queue's configurable options.
type QueueConfig struct {
	MaxSize       int
	Concurrency   map[string]int
	Strategy      string // priority | round-robin | least-loaded | adaptive
	TimeoutMs     int
	RetryDelayMs  int
	MaxRetries    int
	EnableMetrics bool
}

// CircuitConfig mirrors the circuit breaker's configurable options.
type CircuitConfig struct {
	FailureThreshold int
	RecoveryTimeout  int // ms
	MonitoringPeriod int // ms
	SuccessThreshold int
	TimeoutMs        int
	MaxRetries       int
}

// CacheConfig mirrors the cache manager's two-tier KV options.
type CacheConfig struct {
	TTLSeconds     int
	MaxLocalEntries int
}

// SemanticCacheConfig mirrors the semantic cache's configurable options.
type SemanticCacheConfig struct {
	Enabled             bool
	SimilarityThreshold float64
	MaxCacheSize        int
	TTLSeconds          int
	EmbeddingProvider   string // external | local
}

// BudgetConfig mirrors the budget subsystem's configurable options.
type BudgetConfig struct {
	StatusCacheTTLSec int
}

// Load reads configuration from the environment, applying defaults, then
// validates it.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("RELAYCORE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("RELAYCORE_LOG_LEVEL", "info"),
		DBDSN:      getEnv("RELAYCORE_DB_DSN", "file:/data/relaycore.sqlite"),
		RulesFile:  getEnv("RELAYCORE_RULES_FILE", "./rules.yaml"),

		Steering: SteeringConfig{
			DailyBudgetUSD:     getEnvFloat("RELAYCORE_STEERING_DAILY_BUDGET_USD", 100.0),
			PerRequestMaxUSD:   getEnvFloat("RELAYCORE_STEERING_PER_REQUEST_MAX_USD", 1.0),
			EmergencyThreshold: getEnvFloat("RELAYCORE_STEERING_EMERGENCY_THRESHOLD", 0.95),
		},
		Queue: QueueConfig{
			MaxSize:       getEnvInt("RELAYCORE_QUEUE_MAX_SIZE", 10000),
			Strategy:      getEnv("RELAYCORE_QUEUE_STRATEGY", "priority"),
			TimeoutMs:     getEnvInt("RELAYCORE_QUEUE_TIMEOUT_MS", 30000),
			RetryDelayMs:  getEnvInt("RELAYCORE_QUEUE_RETRY_DELAY_MS", 200),
			MaxRetries:    getEnvInt("RELAYCORE_QUEUE_MAX_RETRIES", 3),
			EnableMetrics: getEnvBool("RELAYCORE_QUEUE_ENABLE_METRICS", true),
		},
		Circuit: CircuitConfig{
			FailureThreshold: getEnvInt("RELAYCORE_CIRCUIT_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvInt("RELAYCORE_CIRCUIT_RECOVERY_TIMEOUT_MS", 30000),
			MonitoringPeriod: getEnvInt("RELAYCORE_CIRCUIT_MONITORING_PERIOD_MS", 60000),
			SuccessThreshold: getEnvInt("RELAYCORE_CIRCUIT_SUCCESS_THRESHOLD", 2),
			TimeoutMs:        getEnvInt("RELAYCORE_CIRCUIT_TIMEOUT_MS", 10000),
			MaxRetries:       getEnvInt("RELAYCORE_CIRCUIT_MAX_RETRIES", 3),
		},
		Cache: CacheConfig{
			TTLSeconds:      getEnvInt("RELAYCORE_CACHE_TTL_SECONDS", 300),
			MaxLocalEntries: getEnvInt("RELAYCORE_CACHE_MAX_LOCAL_ENTRIES", 10000),
		},
		Semantic: SemanticCacheConfig{
			Enabled:             getEnvBool("RELAYCORE_SEMANTIC_CACHE_ENABLED", true),
			SimilarityThreshold: getEnvFloat("RELAYCORE_SEMANTIC_SIMILARITY_THRESHOLD", 0.85),
			MaxCacheSize:        getEnvInt("RELAYCORE_SEMANTIC_MAX_CACHE_SIZE", 1000),
			TTLSeconds:          getEnvInt("RELAYCORE_SEMANTIC_TTL_SECONDS", 3600),
			EmbeddingProvider:   getEnv("RELAYCORE_SEMANTIC_EMBEDDING_PROVIDER", "local"),
		},
		Budget: BudgetConfig{
			StatusCacheTTLSec: getEnvInt("RELAYCORE_BUDGET_STATUS_CACHE_TTL_SEC", 300),
		},

		ProviderTimeoutSecs: getEnvInt("RELAYCORE_PROVIDER_TIMEOUT_SECS", 30),

		CORSOrigins:    getEnvStringSlice("RELAYCORE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("RELAYCORE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("RELAYCORE_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("RELAYCORE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("RELAYCORE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("RELAYCORE_OTEL_SERVICE_NAME", "relaycore"),

		TemporalEnabled:   getEnvBool("RELAYCORE_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("RELAYCORE_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("RELAYCORE_TEMPORAL_NAMESPACE", "relaycore"),
		TemporalTaskQueue: getEnv("RELAYCORE_TEMPORAL_TASK_QUEUE", "relaycore-dispatch"),

		NeuroWeaverEnabled:  getEnvBool("RELAYCORE_NEUROWEAVER_ENABLED", false),
		NeuroWeaverEndpoint: getEnv("RELAYCORE_NEUROWEAVER_ENDPOINT", ""),
	}
	cfg.Queue.Concurrency = parseConcurrency(getEnv("RELAYCORE_QUEUE_CONCURRENCY", ""))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RELAYCORE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RELAYCORE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("RELAYCORE_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("RELAYCORE_QUEUE_MAX_SIZE must be > 0, got %d", c.Queue.MaxSize)
	}
	switch c.Queue.Strategy {
	case "priority", "round-robin", "least-loaded", "adaptive":
	default:
		return fmt.Errorf("RELAYCORE_QUEUE_STRATEGY must be one of priority|round-robin|least-loaded|adaptive, got %q", c.Queue.Strategy)
	}
	if c.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("RELAYCORE_CIRCUIT_FAILURE_THRESHOLD must be > 0, got %d", c.Circuit.FailureThreshold)
	}
	if c.Circuit.SuccessThreshold <= 0 {
		return fmt.Errorf("RELAYCORE_CIRCUIT_SUCCESS_THRESHOLD must be > 0, got %d", c.Circuit.SuccessThreshold)
	}
	if c.Semantic.SimilarityThreshold < 0 || c.Semantic.SimilarityThreshold > 1 {
		return fmt.Errorf("RELAYCORE_SEMANTIC_SIMILARITY_THRESHOLD must be in [0,1], got %f", c.Semantic.SimilarityThreshold)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
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

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

// parseConcurrency parses "openai=4,anthropic=2" into a map.
func parseConcurrency(v string) map[string]int {
	out := make(map[string]int)
	if v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
			out[strings.TrimSpace(kv[0])] = n
		}
	}
	return out
}
