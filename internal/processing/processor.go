package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/tagme/internal/models"
	"github.com/DeafMist/tagme/tagme"
)

var whitespace = regexp.MustCompile(`[\s\p{Zs}]+`)

// CleanText unescapes HTML entities and squeezes whitespace. Punctuation is
// kept: TagMe relies on it and annotation offsets refer to this text.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// BuildDocumentID hashes the most stable fields to form deterministic IDs.
func BuildDocumentID(text, source string, ts time.Time) string {
	s := sha1.Sum([]byte(source + "|" + text + "|" + ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}

// ExtractEntities converts the annotations scoring above minRho into entity
// references, keeping text order.
func ExtractEntities(resp *tagme.AnnotateResponse, minRho float64, lang string) []models.EntityRef {
	if resp == nil {
		return nil
	}
	if lang == "" {
		lang = resp.Lang
	}

	var out []models.EntityRef
	for a := range resp.EntriesAbove(minRho) {
		out = append(out, models.EntityRef{
			ID:      a.EntityID,
			Title:   a.EntityTitle,
			URI:     a.URI(lang),
			Mention: a.Mention,
			Begin:   a.Begin,
			End:     a.End,
			Score:   a.Score,
		})
	}
	return out
}

// TopEntities returns up to limit distinct entities, best score first. Each
// entity appears once, with its highest-scoring mention.
func TopEntities(entities []models.EntityRef, limit int) []models.EntityRef {
	best := make(map[int]models.EntityRef, len(entities))
	for _, e := range entities {
		if cur, ok := best[e.ID]; !ok || e.Score > cur.Score {
			best[e.ID] = e
		}
	}
	if len(best) == 0 {
		return nil
	}

	out := make([]models.EntityRef, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EntityPairs lists every unordered pair of the given entities.
func EntityPairs(entities []models.EntityRef) []tagme.IDPair {
	if len(entities) < 2 {
		return nil
	}
	pairs := make([]tagme.IDPair, 0, len(entities)*(len(entities)-1)/2)
	for i := range entities {
		for j := i + 1; j < len(entities); j++ {
			pairs = append(pairs, tagme.IDPair{A: entities[i].ID, B: entities[j].ID})
		}
	}
	return pairs
}

// Coherence is the mean relatedness over the pairs the server could score.
func Coherence(resp *tagme.RelatednessResponse) *float64 {
	if resp == nil {
		return nil
	}
	var sum float64
	var n int
	for i := range resp.Len() {
		if v, ok := resp.ValueAt(i); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// EntityTitles returns the distinct titles in first-seen order.
func EntityTitles(entities []models.EntityRef) []string {
	seen := make(map[string]struct{}, len(entities))
	var titles []string
	for _, e := range entities {
		if _, ok := seen[e.Title]; ok {
			continue
		}
		seen[e.Title] = struct{}{}
		titles = append(titles, e.Title)
	}
	return titles
}
