// Package search ranks chat messages against a keyword query.
//
// An Index is filled once per query from a chat's recent history and then
// searched. Terms are case-folded with golang.org/x/text and looked up through
// per-term posting lists, so only messages sharing at least one term with the
// query are scored. The score is the Jaccard similarity of the two term sets:
//
//	score = |Q ∩ D| / |Q ∪ D|
//
// Ties keep insertion order. Callers that add newest messages first therefore
// see the most recent of two equally good matches first.
//
// An Index is not safe for concurrent Add; Search may be called concurrently
// once filling is done.
package search

import (
	"container/heap"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Hit is one ranked message.
type Hit struct {
	ID    string
	Score float64
}

// DefaultStopwords is a short English list of words too common in chat to
// carry meaning.
var DefaultStopwords = []string{
	"the", "a", "an", "and", "or", "of", "to", "in", "is", "are", "for", "on",
	"with", "by", "from", "at", "as", "that", "this", "it", "be", "was", "were",
}

type Option func(*Index)

// WithStopwords drops the given words from both messages and queries.
func WithStopwords(words []string) Option {
	return func(ix *Index) {
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				ix.stop[w] = struct{}{}
			}
		}
	}
}

// WithMinScore hides hits scoring below s. Values outside [0,1] are ignored.
func WithMinScore(s float64) Option {
	return func(ix *Index) {
		if s >= 0 && s <= 1 {
			ix.minScore = s
		}
	}
}

type entry struct {
	id    string
	terms int
}

type Index struct {
	stop     map[string]struct{}
	minScore float64

	entries  []entry
	postings map[string][]int
}

func New(opts ...Option) *Index {
	ix := &Index{
		stop:     make(map[string]struct{}),
		postings: make(map[string][]int),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Add indexes text under id. Messages with no searchable terms are skipped.
func (ix *Index) Add(id, text string) {
	terms := ix.terms(text)
	if len(terms) == 0 {
		return
	}
	pos := len(ix.entries)
	ix.entries = append(ix.entries, entry{id: id, terms: len(terms)})
	for t := range terms {
		ix.postings[t] = append(ix.postings[t], pos)
	}
}

// Len reports how many messages were indexed.
func (ix *Index) Len() int { return len(ix.entries) }

// Search returns at most k hits, best first. A blank query, or one made only
// of stopwords, matches nothing.
func (ix *Index) Search(query string, k int) []Hit {
	if k <= 0 || len(ix.entries) == 0 {
		return nil
	}
	q := ix.terms(query)
	if len(q) == 0 {
		return nil
	}

	shared := make(map[int]int)
	for t := range q {
		for _, pos := range ix.postings[t] {
			shared[pos]++
		}
	}

	top := make(ranking, 0, k+1)
	for pos, n := range shared {
		union := len(q) + ix.entries[pos].terms - n
		s := float64(n) / float64(union)
		if s < ix.minScore {
			continue
		}
		heap.Push(&top, ranked{pos: pos, score: s})
		if top.Len() > k {
			heap.Pop(&top)
		}
	}

	out := make([]Hit, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		r := heap.Pop(&top).(ranked)
		out[i] = Hit{ID: ix.entries[r.pos].id, Score: r.score}
	}
	return out
}

func (ix *Index) terms(s string) map[string]struct{} {
	words := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := ix.stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// fold builds a fresh Caser per call; Casers carry state and are not
// shareable across goroutines.
func fold(s string) string { return cases.Fold().String(s) }

type ranked struct {
	pos   int
	score float64
}

// ranking is a min-heap whose root is the weakest kept hit: lowest score,
// and among equal scores the latest inserted.
type ranking []ranked

func (r ranking) Len() int { return len(r) }
func (r ranking) Less(i, j int) bool {
	if r[i].score != r[j].score {
		return r[i].score < r[j].score
	}
	return r[i].pos > r[j].pos
}
func (r ranking) Swap(i, j int) { r[i], r[j] = r[j], r[i] }
func (r *ranking) Push(x any)   { *r = append(*r, x.(ranked)) }
func (r *ranking) Pop() any {
	old := *r
	x := old[len(old)-1]
	*r = old[:len(old)-1]
	return x
}
