package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type CacheCfg struct {
	Enabled   bool
	RedisAddr string
	TTL       time.Duration
	OpTimeout time.Duration
	// LRUSize bounds the in-process collection document cache.
	LRUSize int
}

type Config struct {
	Addr     string
	LogLevel string

	CatalogURL     string
	DefaultHeaders map[string]string

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBase      time.Duration
	RetryMaxWait   time.Duration
	RetryAfterCap  time.Duration

	MaxLimit int

	ProbeTimeout time.Duration
	ProbeWorkers int

	NoDataMaxSampleBytes int
	NoDataMaxAssets      int

	Cache        CacheCfg
	Invalidation InvalidationCfg
}

func FromEnv() Config {
	attempts := getint("RETRY_ATTEMPTS", 3)
	if attempts < 1 {
		attempts = 1
	}
	maxLimit := getint("MAX_LIMIT", 500)
	if maxLimit < 1 {
		maxLimit = 1
	}

	return Config{
		Addr:     getenv("ADDR", ":8091"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		CatalogURL:     getenv("CATALOG_URL", "https://planetarycomputer.microsoft.com/api/stac/v1"),
		DefaultHeaders: parseHeaderMap(getenv("DEFAULT_HEADERS", "")),

		RequestTimeout: getduration("REQUEST_TIMEOUT", 30*time.Second),
		RetryAttempts:  attempts,
		RetryBase:      getduration("RETRY_BASE", 300*time.Millisecond),
		RetryMaxWait:   getduration("RETRY_MAX_WAIT", 1600*time.Millisecond),
		RetryAfterCap:  getduration("RETRY_AFTER_CAP", 5*time.Second),

		MaxLimit: maxLimit,

		ProbeTimeout: getduration("PROBE_TIMEOUT", 20*time.Second),
		ProbeWorkers: getint("PROBE_WORKERS", 4),

		NoDataMaxSampleBytes: getint("NODATA_MAX_SAMPLE_BYTES", 1<<20),
		NoDataMaxAssets:      getint("NODATA_MAX_ASSETS", 8),

		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL", 5*time.Minute),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			LRUSize:   getint("CACHE_LRU_SIZE", 256),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "catalog-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "stac-scope"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "Authorization=Bearer x,X-Api-Key=y" into a header map
func parseHeaderMap(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(kv[1])
	}
	return out
}
