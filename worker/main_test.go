package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/tagme/internal/config"
	"github.com/DeafMist/tagme/internal/dedupe"
	"github.com/DeafMist/tagme/internal/models"
	"github.com/DeafMist/tagme/tagme"
)

const annotated = `{
	"annotations": [
		{"start": 0, "end": 5, "id": 534366, "title": "Barack Obama", "rho": 0.42, "spot": "Obama"},
		{"start": 14, "end": 16, "id": 31717, "title": "United Kingdom", "rho": 0.17, "spot": "uk"},
		{"start": 21, "end": 26, "id": 14533, "title": "India", "rho": 0.05, "spot": "India"}
	],
	"time": 12,
	"lang": "en",
	"timestamp": "2017-04-19T09:04:18.434"
}`

type stubTagMe struct {
	annotate  *tagme.AnnotateResponse
	rel       *tagme.RelatednessResponse
	relErr    error
	texts     []string
	relPairs  [][]tagme.IDPair
	annotated int
}

func (s *stubTagMe) Annotate(_ context.Context, text string, _ ...tagme.CallOption) (*tagme.AnnotateResponse, error) {
	s.annotated++
	s.texts = append(s.texts, text)
	return s.annotate, nil
}

func (s *stubTagMe) RelatednessByID(_ context.Context, pairs []tagme.IDPair, _ ...tagme.CallOption) (*tagme.RelatednessResponse, error) {
	s.relPairs = append(s.relPairs, pairs)
	return s.rel, s.relErr
}

type stubIndexer struct {
	docs []models.AnnotatedDocument
	err  error
}

func (s *stubIndexer) IndexDocument(_ context.Context, doc models.AnnotatedDocument) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, doc)
	return nil
}

func testConfig() *config.Worker {
	return &config.Worker{
		Common: config.Common{
			ElasticsearchAddr:  "http://test",
			ElasticsearchIndex: "annotations",
		},
		TagMe:       config.TagMe{Lang: "en"},
		MinRho:      0.1,
		TopEntities: 5,
	}
}

func message(t *testing.T, payload rawText) kafka.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func parsed(t *testing.T) (*tagme.AnnotateResponse, *tagme.RelatednessResponse) {
	t.Helper()
	ann, err := tagme.ParseAnnotateResponse([]byte(annotated))
	require.NoError(t, err)
	rel, err := tagme.ParseRelatednessResponse([]byte(
		`{"result": [{"couple": "534366 31717", "rel": 0.25}], "lang": "en", "timestamp": "2017-04-19T09:04:18"}`,
	))
	require.NoError(t, err)
	return ann, rel
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessMessageIndexesAnnotatedDocument(t *testing.T) {
	ann, rel := parsed(t)
	tm := &stubTagMe{annotate: ann, rel: rel}
	idx := &stubIndexer{}
	cache := dedupe.NewCache(100, time.Hour)

	msg := message(t, rawText{
		Text:      "Obama  visited&nbsp;uk",
		Timestamp: "2024-01-02T15:04:05Z",
		Source:    "rss",
	})

	require.NoError(t, processMessage(context.Background(), discardLogger(), tm, idx, cache, testConfig(), msg))
	require.Len(t, idx.docs, 1)
	require.Equal(t, []string{"Obama visited uk"}, tm.texts)

	doc := idx.docs[0]
	require.NotEmpty(t, doc.ID)
	require.Equal(t, "rss", doc.Source)
	require.Equal(t, "en", doc.Lang)
	require.EqualValues(t, 12, doc.TagMeMillis)
	require.Equal(t, []string{"Barack Obama", "United Kingdom"}, doc.EntityTitles)
	require.Equal(t, "https://en.wikipedia.org/wiki/Barack_Obama", doc.Entities[0].URI)
	require.NotNil(t, doc.Coherence)
	require.InDelta(t, 0.25, *doc.Coherence, 1e-9)

	require.Equal(t, [][]tagme.IDPair{{{A: 534366, B: 31717}}}, tm.relPairs)

	// redelivery of the same message is skipped
	require.NoError(t, processMessage(context.Background(), discardLogger(), tm, idx, cache, testConfig(), msg))
	require.Len(t, idx.docs, 1)
	require.Equal(t, 1, tm.annotated)
}

func TestProcessMessageWithoutRelatednessKeepsDocument(t *testing.T) {
	ann, _ := parsed(t)
	tm := &stubTagMe{annotate: ann}
	idx := &stubIndexer{}

	msg := message(t, rawText{ID: "given-id", Text: "Obama visited uk", Lang: "it"})
	require.NoError(t, processMessage(context.Background(), discardLogger(), tm, idx, dedupe.NewCache(10, time.Hour), testConfig(), msg))

	require.Len(t, idx.docs, 1)
	doc := idx.docs[0]
	require.Equal(t, "given-id", doc.ID)
	require.Equal(t, "it", doc.Lang)
	require.Equal(t, "unknown", doc.Source)
	require.Nil(t, doc.Coherence)
	require.Equal(t, "https://it.wikipedia.org/wiki/Barack_Obama", doc.Entities[0].URI)
}

func TestProcessMessageFailures(t *testing.T) {
	ann, rel := parsed(t)

	t.Run("invalid json", func(t *testing.T) {
		err := processMessage(context.Background(), discardLogger(), &stubTagMe{}, &stubIndexer{}, dedupe.NewCache(10, time.Hour), testConfig(), kafka.Message{Value: []byte("{")})
		require.Error(t, err)
	})

	t.Run("empty text", func(t *testing.T) {
		err := processMessage(context.Background(), discardLogger(), &stubTagMe{}, &stubIndexer{}, dedupe.NewCache(10, time.Hour), testConfig(), message(t, rawText{Text: "  "}))
		require.Error(t, err)
	})

	t.Run("no annotate result", func(t *testing.T) {
		err := processMessage(context.Background(), discardLogger(), &stubTagMe{}, &stubIndexer{}, dedupe.NewCache(10, time.Hour), testConfig(), message(t, rawText{Text: "Obama"}))
		require.ErrorIs(t, err, errNoResult)
	})

	t.Run("relatedness error", func(t *testing.T) {
		tm := &stubTagMe{annotate: ann, relErr: tagme.ErrMissingToken}
		err := processMessage(context.Background(), discardLogger(), tm, &stubIndexer{}, dedupe.NewCache(10, time.Hour), testConfig(), message(t, rawText{Text: "Obama visited uk"}))
		require.ErrorIs(t, err, tagme.ErrMissingToken)
	})

	t.Run("index error leaves key unmarked", func(t *testing.T) {
		cache := dedupe.NewCache(10, time.Hour)
		tm := &stubTagMe{annotate: ann, rel: rel}
		idx := &stubIndexer{err: errors.New("es down")}
		msg := message(t, rawText{ID: "retry-me", Text: "Obama visited uk"})

		require.Error(t, processMessage(context.Background(), discardLogger(), tm, idx, cache, testConfig(), msg))
		require.False(t, cache.Contains("retry-me"))
	})
}

func TestParseTimestamp(t *testing.T) {
	ts := parseTimestamp("2024-02-03T04:05:06Z")
	require.False(t, ts.IsZero())
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), ts)

	legacy := parseTimestamp("2024-02-03 04:05:06")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), legacy)

	require.True(t, parseTimestamp("invalid").IsZero())
	require.True(t, parseTimestamp("").IsZero())
}

func TestDLQMessageCarriesFailureHeaders(t *testing.T) {
	msg := kafka.Message{
		Key:       []byte("k"),
		Value:     []byte(`{"text":"x"}`),
		Partition: 2,
		Offset:    17,
		Headers:   []kafka.Header{{Key: "trace", Value: []byte("abc")}},
	}

	first := dlqMessage(msg, errNoResult)
	second := dlqMessage(msg, errNoResult)

	headers := make(map[string]string, len(first.Headers))
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "abc", headers["trace"])
	require.Equal(t, "2", headers["original_partition"])
	require.Equal(t, "17", headers["original_offset"])
	require.Equal(t, errNoResult.Error(), headers["error"])
	require.Equal(t, msg.Value, first.Value)

	_, err := uuid.Parse(headers["dlq_id"])
	require.NoError(t, err)
	require.NotEqual(t, first.Headers[len(first.Headers)-1].Value, second.Headers[len(second.Headers)-1].Value)
	require.Len(t, msg.Headers, 1)
}
