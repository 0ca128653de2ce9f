package models

import "time"

// EntityRef is a linked entity as stored alongside a document.
type EntityRef struct {
	ID      int     `json:"id"`
	Title   string  `json:"title"`
	URI     string  `json:"uri"`
	Mention string  `json:"mention"`
	Begin   int     `json:"begin"`
	End     int     `json:"end"`
	Score   float64 `json:"score"`
}

// AnnotatedDocument represents the canonical structure stored in Elasticsearch.
type AnnotatedDocument struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Source      string      `json:"source"`
	Lang        string      `json:"lang"`
	Timestamp   time.Time   `json:"timestamp"`
	AnnotatedAt time.Time   `json:"annotated_at"`
	TagMeMillis int64       `json:"tagme_ms"`
	Entities    []EntityRef `json:"entities"`

	// EntityTitles duplicates Entities[].Title for keyword filtering.
	EntityTitles []string `json:"entity_titles"`

	// Coherence is the mean relatedness of the top entities; nil when it
	// could not be computed.
	Coherence *float64 `json:"coherence,omitempty"`
}
