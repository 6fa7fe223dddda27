package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-tunable knob this service reads at
// startup. The *Ms fields are milliseconds, matching the wire-visible
// timing fields used elsewhere in the protocol; callers convert to
// time.Duration where needed.
type Config struct {
	ServerAddr   string
	StaticDir    string
	TrustProxy   bool
	MaxBodyBytes int64 // bytes for /api/visit and /api/bot payloads

	SessionTTLMs      int64 // visit-tracker session GC horizon
	SessionDeadlineMs int64 // visit-tracker analysis deadline
	ChallengeTTLMs    int64 // challenge-store GC horizon / validity window

	Outputs []string // enabled audit sinks: log, kafka, postgres

	MetricsEnabled bool
	MetricsAddr    string

	KafkaBrokers string
	KafkaTopic   string

	PGDSN       string
	PGTable     string
	PGBatchSize int64
	PGFlushMs   int64
	PGUseCopy   bool
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Load reads Config from the environment, falling back to spec-aligned
// defaults wherever a variable is unset or unparsable.
func Load() Config {
	// PORT may be a bare port ("4173") or a listen address (":4173").
	addr := getOr("PORT", "4173")
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return Config{
		ServerAddr:   addr,
		StaticDir:    getOr("STATIC_DIR", "./dist"),
		TrustProxy:   getBool("TRUST_PROXY", false),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default

		SessionTTLMs:      getInt64("SESSION_TTL_MS", 60000),
		SessionDeadlineMs: getInt64("SESSION_DEADLINE_MS", 5000),
		ChallengeTTLMs:    getInt64("CHALLENGE_TTL_MS", 60000),

		Outputs: getStringSlice("OUTPUTS", "log"), // default to log only

		MetricsEnabled: getBool("METRICS_ENABLED", false),
		MetricsAddr:    getOr("METRICS_ADDR", ":9090"),

		KafkaBrokers: getOr("KAFKA_BROKERS", ""),
		KafkaTopic:   getOr("KAFKA_TOPIC", "sentry-verdicts"),

		PGDSN:       getOr("PG_DSN", ""),
		PGTable:     getOr("PG_TABLE", "verdicts"),
		PGBatchSize: getInt64("PG_BATCH_SIZE", 500),
		PGFlushMs:   getInt64("PG_FLUSH_MS", 500),
		PGUseCopy:   getBool("PG_COPY", true),
	}
}
