package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	TimeZone      string
	NotifierURL   string
	NotifierToken string
	KafkaBrokers  []string
	AuditTopic    string
	AuditBucket   string
	AuditPrefix   string
	RunScheduler  bool
}

const (
	defaultAddr       = ":8071"
	defaultAuditTopic = "promotion-audit"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:          getEnv("PROMOTIOND_ADDR", defaultAddr),
		DatabaseURL:   firstNonEmpty(os.Getenv("PROMOTIOND_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		TimeZone:      os.Getenv("PROMOTIOND_TZ"),
		NotifierURL:   os.Getenv("PROMOTIOND_NOTIFIER_URL"),
		NotifierToken: os.Getenv("PROMOTIOND_NOTIFIER_TOKEN"),
		KafkaBrokers:  splitList(os.Getenv("PROMOTIOND_KAFKA_BROKERS")),
		AuditTopic:    getEnv("PROMOTIOND_AUDIT_TOPIC", defaultAuditTopic),
		AuditBucket:   os.Getenv("PROMOTIOND_AUDIT_BUCKET"),
		AuditPrefix:   os.Getenv("PROMOTIOND_AUDIT_PREFIX"),
		RunScheduler:  getBool("PROMOTIOND_SCHEDULER", true),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or PROMOTIOND_DATABASE_URL required")
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, fmt.Errorf("PROMOTIOND_TZ: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured day-boundary zone. Empty means the host's
// local zone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
