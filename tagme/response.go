package tagme

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads the ISO-8601 timestamps TagMe puts in its replies.
// Zone-less values are taken as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, f := range timestampFormats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformedResponse, raw)
}

// envelope carries the fields shared by the annotate and spot replies.
type envelope struct {
	Time      *int    `json:"time"`
	Lang      *string `json:"lang"`
	Timestamp *string `json:"timestamp"`
}

type header struct {
	latency   time.Duration
	lang      string
	timestamp time.Time
}

func (e envelope) header(kind string) (header, error) {
	ms, err := required(e.Time, kind, "time")
	if err != nil {
		return header{}, err
	}
	lang, err := required(e.Lang, kind, "lang")
	if err != nil {
		return header{}, err
	}
	raw, err := required(e.Timestamp, kind, "timestamp")
	if err != nil {
		return header{}, err
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return header{}, fmt.Errorf("%s: %w", kind, err)
	}
	return header{latency: time.Duration(ms) * time.Millisecond, lang: lang, timestamp: ts}, nil
}

// required dereferences a mandatory field, failing when the server omitted
// it or sent null.
func required[T any](v *T, where, field string) (T, error) {
	if v == nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: missing %q", ErrMalformedResponse, where, field)
	}
	return *v, nil
}

func decode(body []byte, kind string, into any) error {
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, kind, err)
	}
	return nil
}
