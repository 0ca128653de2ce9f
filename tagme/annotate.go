package tagme

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// Annotation links a span of the input text to a Wikipedia entity.
type Annotation struct {
	Begin       int     `json:"begin"`
	End         int     `json:"end"`
	EntityID    int     `json:"entity_id"`
	EntityTitle string  `json:"entity_title"`
	Score       float64 `json:"score"`
	Mention     string  `json:"mention"`
}

// URI returns the Wikipedia page of the annotated entity.
func (a Annotation) URI(lang string) string {
	return TitleToURI(a.EntityTitle, lang)
}

func (a Annotation) String() string {
	return fmt.Sprintf("%s -> %s (score: %g)", a.Mention, a.EntityTitle, a.Score)
}

// AnnotateResponse is the reply of the /tag service.
type AnnotateResponse struct {
	annotations []Annotation

	// Latency is the processing time reported by the server.
	Latency   time.Duration
	Lang      string
	Timestamp time.Time
}

// Len reports the number of annotations.
func (r *AnnotateResponse) Len() int { return len(r.annotations) }

// Annotations returns a copy of the annotations in text order.
func (r *AnnotateResponse) Annotations() []Annotation { return slices.Clone(r.annotations) }

// Entries iterates over every annotation.
func (r *AnnotateResponse) Entries() iter.Seq[Annotation] {
	return slices.Values(r.annotations)
}

// EntriesAbove iterates over the annotations whose score is strictly greater
// than minRho.
func (r *AnnotateResponse) EntriesAbove(minRho float64) iter.Seq[Annotation] {
	return func(yield func(Annotation) bool) {
		for _, a := range r.annotations {
			if a.Score > minRho && !yield(a) {
				return
			}
		}
	}
}

func (r *AnnotateResponse) String() string {
	return fmt.Sprintf("%dmsec, %d annotations", r.Latency.Milliseconds(), len(r.annotations))
}

func (r *AnnotateResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Annotations []Annotation `json:"annotations"`
		TimeMillis  int64        `json:"time_ms"`
		Lang        string       `json:"lang"`
		Timestamp   time.Time    `json:"timestamp"`
	}{nonNil(r.annotations), r.Latency.Milliseconds(), r.Lang, r.Timestamp})
}

type annotationRecord struct {
	Start *int     `json:"start"`
	End   *int     `json:"end"`
	ID    *int     `json:"id"`
	Title *string  `json:"title"`
	Rho   *float64 `json:"rho"`
	Spot  string   `json:"spot"`
}

type annotateBody struct {
	envelope
	Annotations *[]annotationRecord `json:"annotations"`
}

// ParseAnnotateResponse builds an AnnotateResponse from a /tag reply body.
// Records without a linked entity title are skipped.
func ParseAnnotateResponse(body []byte) (*AnnotateResponse, error) {
	var raw annotateBody
	if err := decode(body, "annotate", &raw); err != nil {
		return nil, err
	}
	records, err := required(raw.Annotations, "annotate", "annotations")
	if err != nil {
		return nil, err
	}
	h, err := raw.header("annotate")
	if err != nil {
		return nil, err
	}

	linked := make([]annotationRecord, 0, len(records))
	for _, rec := range records {
		if rec.Title != nil {
			linked = append(linked, rec)
		}
	}

	annotations := make([]Annotation, 0, len(linked))
	for i, rec := range linked {
		a, err := rec.annotation()
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		annotations = append(annotations, a)
	}

	return &AnnotateResponse{
		annotations: annotations,
		Latency:     h.latency,
		Lang:        h.lang,
		Timestamp:   h.timestamp,
	}, nil
}

func (rec annotationRecord) annotation() (Annotation, error) {
	begin, err := required(rec.Start, "annotation", "start")
	if err != nil {
		return Annotation{}, err
	}
	end, err := required(rec.End, "annotation", "end")
	if err != nil {
		return Annotation{}, err
	}
	id, err := required(rec.ID, "annotation", "id")
	if err != nil {
		return Annotation{}, err
	}
	rho, err := required(rec.Rho, "annotation", "rho")
	if err != nil {
		return Annotation{}, err
	}
	return Annotation{
		Begin:       begin,
		End:         end,
		EntityID:    id,
		EntityTitle: *rec.Title,
		Score:       rho,
		Mention:     rec.Spot,
	}, nil
}

// Annotate links the entities mentioned in text to Wikipedia pages.
func (c *Client) Annotate(ctx context.Context, text string, opts ...CallOption) (*AnnotateResponse, error) {
	o := c.resolve(c.cfg.TagAPI, opts)
	form := url.Values{}
	form.Set("text", text)
	form.Set("long_text", strconv.Itoa(o.longText))
	form.Set("lang", o.lang)

	body, ok, err := c.issue(ctx, o.endpoint, form, o.token)
	if err != nil || !ok {
		return nil, err
	}
	return ParseAnnotateResponse(body)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
