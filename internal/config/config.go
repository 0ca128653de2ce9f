package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/tagme/tagme"
)

// TagMe holds the client settings shared by every binary.
type TagMe struct {
	Token    string
	Lang     string
	TagAPI   string
	SpotAPI  string
	RelAPI   string
	LongText int
	Timeout  time.Duration
	MaxPairs int
}

// Common contains Elasticsearch parameters shared by the services.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Worker holds configuration for the Kafka -> TagMe -> Elasticsearch worker.
type Worker struct {
	Common
	TagMe
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	MinRho         float64
	TopEntities    int
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	TagMe
	BindAddr    string
	DefaultPage int
	MaxPage     int

	// MaxRequestPairs caps the pairs one /relatedness call may submit.
	MaxRequestPairs int
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// ClientConfig turns the settings into a tagme.Config.
func (t TagMe) ClientConfig(logger *slog.Logger) tagme.Config {
	return tagme.Config{
		Token:              t.Token,
		Lang:               t.Lang,
		TagAPI:             t.TagAPI,
		SpotAPI:            t.SpotAPI,
		RelAPI:             t.RelAPI,
		LongText:           t.LongText,
		MaxPairsPerRequest: t.MaxPairs,
		HTTPClient:         &http.Client{Timeout: t.Timeout},
		Logger:             logger,
	}
}

// LoadClient reads the TagMe settings alone. The token may be empty: the
// library reports its absence when a call is made.
func LoadClient() (*TagMe, error) {
	t := loadTagMe()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadTagMe() TagMe {
	return TagMe{
		Token:    strings.TrimSpace(getEnv("TAGME_GCUBE_TOKEN", "")),
		Lang:     getEnv("TAGME_LANG", tagme.DefaultLang),
		TagAPI:   getEnv("TAGME_TAG_API", tagme.DefaultTagAPI),
		SpotAPI:  getEnv("TAGME_SPOT_API", tagme.DefaultSpotAPI),
		RelAPI:   getEnv("TAGME_REL_API", tagme.DefaultRelAPI),
		LongText: getInt("TAGME_LONG_TEXT", tagme.DefaultLongText),
		Timeout:  getDuration("TAGME_TIMEOUT", "30s"),
		MaxPairs: getInt("TAGME_MAX_PAIRS", tagme.MaxRelatednessPairsPerRequest),
	}
}

func (t TagMe) validate() error {
	if t.MaxPairs <= 0 || t.MaxPairs > tagme.MaxRelatednessPairsPerRequest {
		return fmt.Errorf("TAGME_MAX_PAIRS must be between 1 and %d", tagme.MaxRelatednessPairsPerRequest)
	}
	if t.LongText < 0 {
		return fmt.Errorf("TAGME_LONG_TEXT cannot be negative")
	}
	if t.Timeout < 0 {
		return fmt.Errorf("TAGME_TIMEOUT cannot be negative")
	}
	return nil
}

func (t TagMe) requireToken() error {
	if t.Token == "" {
		return fmt.Errorf("TAGME_GCUBE_TOKEN must be set")
	}
	return nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "annotations"),
	}
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:         loadCommon(),
		TagMe:          loadTagMe(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "texts_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "tagme-worker"),
		MinRho:         getFloat("WORKER_MIN_RHO", 0.1),
		TopEntities:    getInt("WORKER_TOP_ENTITIES", 5),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
	}

	if err := c.TagMe.validate(); err != nil {
		return nil, err
	}
	if err := c.TagMe.requireToken(); err != nil {
		return nil, err
	}
	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.MinRho < 0 || c.MinRho > 1 {
		return nil, fmt.Errorf("WORKER_MIN_RHO must be within [0,1]")
	}
	if c.TopEntities < 0 {
		return nil, fmt.Errorf("WORKER_TOP_ENTITIES cannot be negative")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:          loadCommon(),
		TagMe:           loadTagMe(),
		BindAddr:        getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage:     getInt("API_PAGE_SIZE", 20),
		MaxPage:         getInt("API_MAX_PAGE_SIZE", 100),
		MaxRequestPairs: getInt("API_MAX_PAIRS", 1000),
	}

	if err := c.TagMe.validate(); err != nil {
		return nil, err
	}
	if err := c.TagMe.requireToken(); err != nil {
		return nil, err
	}
	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.MaxRequestPairs <= 0 {
		return nil, fmt.Errorf("API_MAX_PAIRS must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
