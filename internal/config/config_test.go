package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/tagme/internal/config"
	"github.com/DeafMist/tagme/tagme"
)

func clearTagMeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TAGME_GCUBE_TOKEN", "TAGME_LANG", "TAGME_TAG_API", "TAGME_SPOT_API", "TAGME_REL_API",
		"TAGME_LONG_TEXT", "TAGME_TIMEOUT", "TAGME_MAX_PAIRS",
		"ELASTICSEARCH_ADDR", "ELASTICSEARCH_INDEX",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_CONSUMER_GROUP",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadClientDefaults(t *testing.T) {
	clearTagMeEnv(t)

	cfg, err := config.LoadClient()
	require.NoError(t, err)

	require.Empty(t, cfg.Token)
	require.Equal(t, "en", cfg.Lang)
	require.Equal(t, tagme.DefaultTagAPI, cfg.TagAPI)
	require.Equal(t, tagme.DefaultSpotAPI, cfg.SpotAPI)
	require.Equal(t, tagme.DefaultRelAPI, cfg.RelAPI)
	require.Equal(t, 3, cfg.LongText)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 100, cfg.MaxPairs)

	cc := cfg.ClientConfig(nil)
	require.Equal(t, 100, cc.MaxPairsPerRequest)
	require.Equal(t, 30*time.Second, cc.HTTPClient.Timeout)
	_, err = tagme.New(cc)
	require.NoError(t, err)
}

func TestLoadClientRejectsOversizedChunks(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("TAGME_MAX_PAIRS", "101")

	_, err := config.LoadClient()
	require.Error(t, err)
}

func TestLoadWorkerRequiresToken(t *testing.T) {
	clearTagMeEnv(t)

	_, err := config.LoadWorker()
	require.ErrorContains(t, err, "TAGME_GCUBE_TOKEN")
}

func TestLoadWorkerDefaults(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("TAGME_GCUBE_TOKEN", " secret ")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "secret", cfg.Token)
	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "annotations", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "texts_raw", cfg.KafkaTopic)
	require.Equal(t, "tagme-worker", cfg.KafkaConsumer)
	require.Equal(t, 0.1, cfg.MinRho)
	require.Equal(t, 5, cfg.TopEntities)
}

func TestLoadWorkerOverrides(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("TAGME_GCUBE_TOKEN", "secret")
	t.Setenv("TAGME_LANG", "it")
	t.Setenv("TAGME_REL_API", "http://localhost:8081/tagme/rel")
	t.Setenv("TAGME_MAX_PAIRS", "50")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("WORKER_MIN_RHO", "0.25")
	t.Setenv("WORKER_TOP_ENTITIES", "8")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "it", cfg.Lang)
	require.Equal(t, "http://localhost:8081/tagme/rel", cfg.RelAPI)
	require.Equal(t, 50, cfg.TagMe.MaxPairs)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, 0.25, cfg.MinRho)
	require.Equal(t, 8, cfg.TopEntities)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
}

func TestLoadWorkerRejectsBadRho(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("TAGME_GCUBE_TOKEN", "secret")
	t.Setenv("WORKER_MIN_RHO", "1.5")

	_, err := config.LoadWorker()
	require.ErrorContains(t, err, "WORKER_MIN_RHO")
}

func TestLoadAPI(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("TAGME_GCUBE_TOKEN", "secret")
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("API_MAX_PAIRS", "300")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, 300, cfg.MaxRequestPairs)
	require.Equal(t, 100, cfg.TagMe.MaxPairs)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
}

func TestLoadRetention(t *testing.T) {
	clearTagMeEnv(t)
	t.Setenv("RETENTION_CRON", "12h")
	t.Setenv("RETENTION_MAX_AGE", "36h")
	t.Setenv("RETENTION_BATCH_SIZE", "123")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 36*time.Hour, cfg.MaxAge)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, "annotations", cfg.ElasticsearchIndex)
}
