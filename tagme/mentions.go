package tagme

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"time"
)

// Mention is a span of text that may refer to an entity. Mentions are not
// linked to any entity.
type Mention struct {
	Begin    int     `json:"begin"`
	End      int     `json:"end"`
	LinkProb float64 `json:"linkprob"`
	Mention  string  `json:"mention"`
}

func (m Mention) String() string {
	return fmt.Sprintf("%s [%d,%d] lp=%g", m.Mention, m.Begin, m.End, m.LinkProb)
}

// MentionsResponse is the reply of the /spot service.
type MentionsResponse struct {
	mentions []Mention

	Latency   time.Duration
	Lang      string
	Timestamp time.Time
}

// Len reports the number of mentions.
func (r *MentionsResponse) Len() int { return len(r.mentions) }

// Mentions returns a copy of the mentions in text order.
func (r *MentionsResponse) Mentions() []Mention { return slices.Clone(r.mentions) }

// Entries iterates over every mention.
func (r *MentionsResponse) Entries() iter.Seq[Mention] {
	return slices.Values(r.mentions)
}

// EntriesAbove iterates over the mentions with a link probability strictly
// greater than minLP.
func (r *MentionsResponse) EntriesAbove(minLP float64) iter.Seq[Mention] {
	return func(yield func(Mention) bool) {
		for _, m := range r.mentions {
			if m.LinkProb > minLP && !yield(m) {
				return
			}
		}
	}
}

func (r *MentionsResponse) String() string {
	return fmt.Sprintf("%dmsec, %d mentions", r.Latency.Milliseconds(), len(r.mentions))
}

func (r *MentionsResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mentions   []Mention `json:"mentions"`
		TimeMillis int64     `json:"time_ms"`
		Lang       string    `json:"lang"`
		Timestamp  time.Time `json:"timestamp"`
	}{nonNil(r.mentions), r.Latency.Milliseconds(), r.Lang, r.Timestamp})
}

type spotRecord struct {
	Start *int     `json:"start"`
	End   *int     `json:"end"`
	LP    *float64 `json:"lp"`
	Spot  string   `json:"spot"`
}

type spotBody struct {
	envelope
	Spots *[]spotRecord `json:"spots"`
}

// ParseMentionsResponse builds a MentionsResponse from a /spot reply body.
func ParseMentionsResponse(body []byte) (*MentionsResponse, error) {
	var raw spotBody
	if err := decode(body, "spot", &raw); err != nil {
		return nil, err
	}
	records, err := required(raw.Spots, "spot", "spots")
	if err != nil {
		return nil, err
	}
	h, err := raw.header("spot")
	if err != nil {
		return nil, err
	}

	mentions := make([]Mention, 0, len(records))
	for i, rec := range records {
		begin, err := required(rec.Start, "mention", "start")
		if err != nil {
			return nil, fmt.Errorf("mention %d: %w", i, err)
		}
		end, err := required(rec.End, "mention", "end")
		if err != nil {
			return nil, fmt.Errorf("mention %d: %w", i, err)
		}
		lp, err := required(rec.LP, "mention", "lp")
		if err != nil {
			return nil, fmt.Errorf("mention %d: %w", i, err)
		}
		mentions = append(mentions, Mention{Begin: begin, End: end, LinkProb: lp, Mention: rec.Spot})
	}

	return &MentionsResponse{
		mentions:  mentions,
		Latency:   h.latency,
		Lang:      h.lang,
		Timestamp: h.timestamp,
	}, nil
}

// FindMentions spots the parts of text that may mention an entity, without
// linking them.
func (c *Client) FindMentions(ctx context.Context, text string, opts ...CallOption) (*MentionsResponse, error) {
	o := c.resolve(c.cfg.SpotAPI, opts)
	form := url.Values{}
	form.Set("text", text)
	form.Set("lang", o.lang)

	body, ok, err := c.issue(ctx, o.endpoint, form, o.token)
	if err != nil || !ok {
		return nil, err
	}
	return ParseMentionsResponse(body)
}
