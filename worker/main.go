package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/tagme/internal/config"
	"github.com/DeafMist/tagme/internal/dedupe"
	"github.com/DeafMist/tagme/internal/elasticsearch"
	"github.com/DeafMist/tagme/internal/logger"
	"github.com/DeafMist/tagme/internal/models"
	"github.com/DeafMist/tagme/internal/processing"
	"github.com/DeafMist/tagme/tagme"
)

var errNoResult = errors.New("tagme returned no result")

type rawText struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Lang      string `json:"lang"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type annotator interface {
	Annotate(ctx context.Context, text string, opts ...tagme.CallOption) (*tagme.AnnotateResponse, error)
	RelatednessByID(ctx context.Context, pairs []tagme.IDPair, opts ...tagme.CallOption) (*tagme.RelatednessResponse, error)
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, doc models.AnnotatedDocument) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	client, err := tagme.New(cfg.TagMe.ClientConfig(log))
	if err != nil {
		log.Error("init tagme client", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Warn("ensure index failed, continuing", slog.Any("err", err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
		slog.String("lang", cfg.Lang),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, client, esClient, cache, cfg, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled mid-message, stopping")
				return
			}
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				log.Error("DLQ write exhausted retries, leaving message uncommitted",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// dlqMessage copies msg with headers describing the failure. Each dead letter
// gets its own dlq_id so redelivered failures can be told apart.
func dlqMessage(msg kafka.Message, cause error) kafka.Message {
	return kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(slices.Clone(msg.Headers),
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
			kafka.Header{Key: "dlq_id", Value: []byte(uuid.NewString())},
		),
	}
}

// sendToDLQ forwards a failed message with its error context. The Kafka write
// is retried with exponential backoff; TagMe calls themselves are not.
func sendToDLQ(ctx context.Context, log *slog.Logger, w *kafka.Writer, msg kafka.Message, cause error) bool {
	dlqMsg := dlqMessage(msg, cause)

	for attempt := range 5 {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func processMessage(ctx context.Context, log *slog.Logger, tm annotator, idx documentIndexer, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var payload rawText
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return err
	}

	text := processing.CleanText(payload.Text)
	if text == "" {
		return errors.New("empty text")
	}

	ts := parseTimestamp(payload.Timestamp)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	source := strings.TrimSpace(payload.Source)
	if source == "" {
		source = "unknown"
	}

	lang := strings.TrimSpace(payload.Lang)
	if lang == "" {
		lang = cfg.Lang
	}

	id := strings.TrimSpace(payload.ID)
	if id == "" {
		id = processing.BuildDocumentID(text, source, ts)
	}

	if cache.Contains(id) {
		log.Debug("duplicate text", slog.String("id", id))
		return nil
	}

	resp, err := tm.Annotate(ctx, text, tagme.WithLang(lang))
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	if resp == nil {
		return errNoResult
	}

	entities := processing.ExtractEntities(resp, cfg.MinRho, lang)
	doc := models.AnnotatedDocument{
		ID:           id,
		Text:         text,
		Source:       source,
		Lang:         lang,
		Timestamp:    ts,
		AnnotatedAt:  resp.Timestamp,
		TagMeMillis:  resp.Latency.Milliseconds(),
		Entities:     entities,
		EntityTitles: processing.EntityTitles(entities),
	}

	pairs := processing.EntityPairs(processing.TopEntities(entities, cfg.TopEntities))
	if len(pairs) > 0 {
		rel, err := tm.RelatednessByID(ctx, pairs, tagme.WithLang(lang))
		if err != nil {
			return fmt.Errorf("relatedness: %w", err)
		}
		if rel == nil {
			log.Warn("relatedness unavailable, indexing without coherence", slog.String("id", id))
		}
		doc.Coherence = processing.Coherence(rel)
	}

	if err := idx.IndexDocument(ctx, doc); err != nil {
		return err
	}

	cache.Mark(id)
	log.Info("indexed annotated text",
		slog.String("id", id),
		slog.Int("entities", len(entities)),
		slog.Int64("tagme_ms", doc.TagMeMillis),
	)
	return nil
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
