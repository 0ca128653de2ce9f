package tagme

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// IDPair identifies two entities by their Wikipedia page IDs.
type IDPair struct {
	A, B int
}

// TitlePair identifies two entities by title. Titles are normalized before
// they are sent.
type TitlePair struct {
	A, B string
}

// PairKey is an unordered pair of entity titles: NewPairKey(a, b) and
// NewPairKey(b, a) are equal.
type PairKey struct {
	First, Second string
}

// NewPairKey canonicalizes both titles ("barack_obama" and "Barack Obama"
// give the same key) and orders them.
func NewPairKey(a, b string) PairKey {
	a, b = canonicalTitle(a), canonicalTitle(b)
	if b < a {
		a, b = b, a
	}
	return PairKey{First: a, Second: b}
}

func (k PairKey) String() string { return k.First + ", " + k.Second }

// Relatedness is the semantic relatedness of two entities. Rel is nil when
// the server could not compute it, e.g. for an unknown title.
type Relatedness struct {
	Title1 string   `json:"title1"`
	Title2 string   `json:"title2"`
	Rel    *float64 `json:"rel"`
}

// Key returns the unordered pair this record scores.
func (r Relatedness) Key() PairKey { return NewPairKey(r.Title1, r.Title2) }

func (r Relatedness) String() string {
	if r.Rel == nil {
		return fmt.Sprintf("%s, %s rel=none", r.Title1, r.Title2)
	}
	return fmt.Sprintf("%s, %s rel=%g", r.Title1, r.Title2, *r.Rel)
}

// RelatednessResponse merges the replies of one or more /rel calls. Record i
// scores the i-th submitted pair.
type RelatednessResponse struct {
	records []Relatedness

	// Lang and Timestamp come from the first call.
	Lang      string
	Timestamp time.Time

	// Calls is the number of HTTP requests the batch needed.
	Calls int
}

func (r *RelatednessResponse) Len() int { return len(r.records) }

// Records returns a copy of the records in submission order.
func (r *RelatednessResponse) Records() []Relatedness {
	out := make([]Relatedness, len(r.records))
	for i, rec := range r.records {
		rec.Rel = copyScore(rec.Rel)
		out[i] = rec
	}
	return out
}

// ValueAt returns the score of the i-th submitted pair. ok is false when i is
// out of range or the server gave no score for that pair.
func (r *RelatednessResponse) ValueAt(i int) (rel float64, ok bool) {
	if i < 0 || i >= len(r.records) || r.records[i].Rel == nil {
		return 0, false
	}
	return *r.records[i].Rel, true
}

// All iterates over (pair, score) in submission order.
func (r *RelatednessResponse) All() iter.Seq2[PairKey, *float64] {
	return func(yield func(PairKey, *float64) bool) {
		for _, rec := range r.records {
			if !yield(rec.Key(), copyScore(rec.Rel)) {
				return
			}
		}
	}
}

// PairMapping indexes the scores by unordered title pair. When a pair was
// submitted more than once the last score wins.
func (r *RelatednessResponse) PairMapping() map[PairKey]*float64 {
	m := make(map[PairKey]*float64, len(r.records))
	for k, v := range r.All() {
		m[k] = v
	}
	return m
}

// Lookup returns the score of the pair (a, b) in either order.
func (r *RelatednessResponse) Lookup(a, b string) (float64, bool) {
	key := NewPairKey(a, b)
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Key() == key {
			if r.records[i].Rel == nil {
				return 0, false
			}
			return *r.records[i].Rel, true
		}
	}
	return 0, false
}

// LookupIDs is Lookup for pairs submitted by Wikipedia ID.
func (r *RelatednessResponse) LookupIDs(a, b int) (float64, bool) {
	return r.Lookup(strconv.Itoa(a), strconv.Itoa(b))
}

func (r *RelatednessResponse) String() string {
	return fmt.Sprintf("%d relatedness pairs, %d calls", len(r.records), r.Calls)
}

func (r *RelatednessResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Relatedness []Relatedness `json:"relatedness"`
		Lang        string        `json:"lang"`
		Timestamp   time.Time     `json:"timestamp"`
		Calls       int           `json:"calls"`
	}{nonNil(r.records), r.Lang, r.Timestamp, r.Calls})
}

func copyScore(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type relRecord struct {
	Couple *string  `json:"couple"`
	Rel    *float64 `json:"rel"`
}

type relBody struct {
	Result    *[]relRecord `json:"result"`
	Lang      *string      `json:"lang"`
	Timestamp *string      `json:"timestamp"`
}

// ParseRelatednessResponse merges the bodies of consecutive /rel calls, in
// call order, into one response.
func ParseRelatednessResponse(bodies ...[]byte) (*RelatednessResponse, error) {
	if len(bodies) == 0 {
		return nil, fmt.Errorf("%w: relatedness: no payloads", ErrMalformedResponse)
	}

	resp := &RelatednessResponse{Calls: len(bodies)}
	for n, body := range bodies {
		records, err := parseRelChunk(body, n, resp)
		if err != nil {
			return nil, err
		}
		resp.records = append(resp.records, records...)
	}
	return resp, nil
}

// parseRelChunk decodes one payload; the first one also fills lang and
// timestamp on resp.
func parseRelChunk(body []byte, n int, resp *RelatednessResponse) ([]Relatedness, error) {
	where := "relatedness chunk " + strconv.Itoa(n)

	var raw relBody
	if err := decode(body, where, &raw); err != nil {
		return nil, err
	}
	results, err := required(raw.Result, where, "result")
	if err != nil {
		return nil, err
	}

	if n == 0 {
		lang, err := required(raw.Lang, where, "lang")
		if err != nil {
			return nil, err
		}
		stamp, err := required(raw.Timestamp, where, "timestamp")
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(stamp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		resp.Lang, resp.Timestamp = lang, ts
	}

	records := make([]Relatedness, 0, len(results))
	for i, rec := range results {
		couple, err := required(rec.Couple, where, "couple")
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		parts := strings.Split(couple, " ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %s: record %d: couple %q is not two titles", ErrMalformedResponse, where, i, couple)
		}
		records = append(records, Relatedness{
			Title1: Denormalize(parts[0]),
			Title2: Denormalize(parts[1]),
			Rel:    rec.Rel,
		})
	}
	return records, nil
}

// RelatednessByID scores each pair of entities given by Wikipedia ID.
func (c *Client) RelatednessByID(ctx context.Context, pairs []IDPair, opts ...CallOption) (*RelatednessResponse, error) {
	values := make([]string, len(pairs))
	for i, p := range pairs {
		values[i] = strconv.Itoa(p.A) + " " + strconv.Itoa(p.B)
	}
	return c.relatedness(ctx, "id", values, opts)
}

// RelatednessByTitle scores each pair of entities given by title.
func (c *Client) RelatednessByTitle(ctx context.Context, pairs []TitlePair, opts ...CallOption) (*RelatednessResponse, error) {
	values := make([]string, len(pairs))
	for i, p := range pairs {
		values[i] = Normalize(p.A) + " " + Normalize(p.B)
	}
	return c.relatedness(ctx, "tt", values, opts)
}

// relatedness sends values in chunks of at most MaxPairsPerRequest, one call
// after the other. A chunk without a result aborts the batch: the response
// is all or nothing so that record i always scores pair i.
func (c *Client) relatedness(ctx context.Context, field string, values []string, opts []CallOption) (*RelatednessResponse, error) {
	if len(values) == 0 {
		return nil, ErrNoPairs
	}
	o := c.resolve(c.cfg.RelAPI, opts)
	if o.token == "" {
		return nil, ErrMissingToken
	}

	size := c.cfg.MaxPairsPerRequest
	bodies := make([][]byte, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		chunk := values[start:min(start+size, len(values))]
		form := url.Values{
			"lang": {o.lang},
			field:  slices.Clone(chunk),
		}

		body, ok, err := c.issue(ctx, o.endpoint, form, o.token)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.log.Warn("relatedness chunk returned no result, dropping batch",
				slog.Int("chunk", len(bodies)),
				slog.Int("pairs", len(values)),
			)
			return nil, nil
		}

		if got, err := countResults(body); err == nil && got != len(chunk) {
			return nil, fmt.Errorf("%w: relatedness chunk %d: %d results for %d pairs",
				ErrMalformedResponse, len(bodies), got, len(chunk))
		}
		bodies = append(bodies, body)
	}

	return ParseRelatednessResponse(bodies...)
}

// countResults peeks at the length of a chunk's result array. Decoding errors
// are left for the parser to report.
func countResults(body []byte) (int, error) {
	var peek struct {
		Result []json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return 0, err
	}
	return len(peek.Result), nil
}
