// Package search ranks catalog documents against a free-text query. It is
// deterministic and safe for concurrent use: a Ranker holds only immutable
// configuration and every call builds its own token sets.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Stable order for ties (input order wins)
//
// Scoring uses Jaccard similarity between the query token set and a
// document's token set: score = |Q ∩ D| / |Q ∪ D|. The title is scored on
// its own as well and weighted, so a title hit outranks the same word buried
// in an overview.
package search

import (
	"regexp"
	"sort"
	"strings"
)

// Doc is one searchable record. Body holds the secondary fields (overview,
// director, cast) joined by the caller.
type Doc struct {
	ID    string
	Title string
	Body  string
}

// Hit is a ranked document ID with its similarity score.
type Hit struct {
	ID    string
	Score float64
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords   map[string]struct{}
	titleWeight float64
	minScore    float64
}

func defaultConfig() config {
	return config{
		stopwords:   nil,
		titleWeight: 2,
		minScore:    0,
	}
}

// WithStopwords drops the given words from queries and documents.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithTitleWeight sets the multiplier of the title-only score.
func WithTitleWeight(w float64) Option {
	return func(c *config) {
		if w >= 0 {
			c.titleWeight = w
		}
	}
}

// WithMinScore discards hits scoring at or below s.
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s >= 0 {
			c.minScore = s
		}
	}
}

// DefaultStopwords are common English words that carry no ranking signal.
var DefaultStopwords = []string{"a", "an", "and", "of", "the", "in", "on", "to", "with"}

// ----------------------------------------------------------------------------
// Implementation

// Ranker scores documents against queries.
type Ranker struct {
	cfg config
}

// NewRanker returns a Ranker configured by opts.
func NewRanker(opts ...Option) *Ranker {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Ranker{cfg: cfg}
}

// Rank returns the documents that share at least one token with q, best
// first. An empty or stop-word-only query yields nil.
func (r *Ranker) Rank(q string, docs []Doc) []Hit {
	if len(docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	qTokens := tokenize(q, r.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	out := make([]Hit, 0, len(docs))
	for _, d := range docs {
		title := tokenize(d.Title, r.cfg.stopwords)
		all := tokenize(d.Title+" "+d.Body, r.cfg.stopwords)
		score := jaccard(qTokens, all) + r.cfg.titleWeight*jaccard(qTokens, title)
		if score <= r.cfg.minScore {
			continue
		}
		out = append(out, Hit{ID: d.ID, Score: score})
	}
	if len(out) == 0 {
		return nil
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	over := overlap(a, b)
	if over == 0 {
		return 0
	}
	return float64(over) / float64(len(a)+len(b)-over)
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
