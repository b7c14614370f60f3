package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort           = ":4000"
	defaultStorePath      = ".data/conversationStore.json"
	defaultAdapterTimeout = 15 * time.Second
	defaultReplayCache    = 256
	defaultSimLatencyMs   = 20
)

type Config struct {
	Port       string
	Env        string
	CORSOrigin string
	// AdminToken guards the operator endpoints. They are not mounted when it is empty.
	AdminToken string
	Log        LogConfig
	Adapter    AdapterConfig
	Store      StoreConfig
	Snapshot   SnapshotConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type AdapterConfig struct {
	Name             string
	Timeout          time.Duration
	SimulatedLatency time.Duration
	ReplayCacheSize  int
	GeminiAPIKey     string
	GeminiModel      string
	GeminiRPS        float64
	GeminiBurst      int
}

type StoreConfig struct {
	Path        string
	PostgresDSN string
}

// SnapshotConfig points at the optional S3-compatible bucket that mirrors the store.
type SnapshotConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := firstNonEmpty(getenv("APP_ENV"), "local")
	cfg := &Config{
		Port:       normalizePort(firstNonEmpty(getenv("PORT"), defaultPort)),
		Env:        env,
		CORSOrigin: firstNonEmpty(getenv("CORS_ORIGIN"), "*"),
		AdminToken: getenv("ADMIN_TOKEN"),
		Log: LogConfig{
			Level:  firstNonEmpty(getenv("LOG_LEVEL"), "info"),
			Format: firstNonEmpty(getenv("LOG_FORMAT"), "json"),
		},
		Adapter: AdapterConfig{
			Name:             firstNonEmpty(getenv("AI_ADAPTER"), "deterministic"),
			Timeout:          durationEnv("ADAPTER_TIMEOUT", defaultAdapterTimeout),
			SimulatedLatency: time.Duration(intEnv("SIMULATED_LATENCY_MS", defaultSimLatencyMs)) * time.Millisecond,
			ReplayCacheSize:  intEnv("REPLAY_CACHE_SIZE", defaultReplayCache),
			GeminiAPIKey:     firstNonEmpty(getenv("GEMINI_API_KEY"), getenv("GOOGLE_API_KEY")),
			GeminiModel:      getenv("GEMINI_MODEL"),
			GeminiRPS:        floatEnv("GEMINI_RPS", 0),
			GeminiBurst:      intEnv("GEMINI_BURST", 0),
		},
		Store: StoreConfig{
			Path:        firstNonEmpty(getenv("CONVERSATION_STORE_PATH"), defaultStorePath),
			PostgresDSN: getenv("CONVERSATION_STORE_PG_DSN"),
		},
		Snapshot: loadSnapshotConfig(env),
	}
	return cfg, nil
}

func loadSnapshotConfig(env string) SnapshotConfig {
	if strings.EqualFold(env, "local") {
		return localSnapshotConfig()
	}
	return SnapshotConfig{
		Endpoint:  getenv("SNAPSHOT_S3_ENDPOINT"),
		Region:    firstNonEmpty(getenv("SNAPSHOT_S3_REGION"), "us-east-1"),
		AccessKey: getenv("SNAPSHOT_S3_ACCESS_KEY"),
		SecretKey: getenv("SNAPSHOT_S3_SECRET_KEY"),
		Bucket:    getenv("SNAPSHOT_S3_BUCKET"),
		Object:    getenv("SNAPSHOT_S3_OBJECT"),
		UseSSL:    boolEnv("SNAPSHOT_S3_USE_SSL", true),
	}
}

// normalizePort accepts "4000" as well as ":4000" and "host:4000".
func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intEnv(key string, def int) int {
	raw := getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	raw := getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// durationEnv reads Go durations ("15s") and falls back to plain milliseconds.
func durationEnv(key string, def time.Duration) time.Duration {
	raw := getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func boolEnv(key string, def bool) bool {
	raw := getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
