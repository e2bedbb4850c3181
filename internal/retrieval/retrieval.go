// Package retrieval ranks indexed guidance chunks against a task query and
// formats them into a grounding context string.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/trialscribe/internal/store"
)

// DefaultTopK is the number of snippets retrieved per query.
const DefaultTopK = 4

// DefaultPreviewLen is the per-snippet preview bound in runes.
const DefaultPreviewLen = 350

// Snippet is one retrieved reference with provenance.
type Snippet struct {
	Text   string
	Source string
}

// Retriever returns the k most relevant snippets for a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Snippet, error)
}

// Index is the subset of the chunk repository the retriever needs.
type Index interface {
	Count(ctx context.Context) (int, error)
	TermStats(ctx context.Context, queryTerms []string) ([]store.TermStat, error)
	Get(ctx context.Context, ids []int64) ([]store.Chunk, error)
}

// StoreRetriever ranks chunks by tf-idf over the persisted term index.
type StoreRetriever struct {
	index Index
}

// NewStoreRetriever creates a retriever over the given index.
func NewStoreRetriever(index Index) *StoreRetriever {
	return &StoreRetriever{index: index}
}

// Retrieve scores every chunk sharing a term with the query and returns the
// top k. Ties break on chunk ID so rankings are deterministic. An empty
// index is an error: a run must not proceed ungrounded.
func (r *StoreRetriever) Retrieve(ctx context.Context, query string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	total, err := r.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("guidance index is empty: run ingest first")
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("query yields no searchable terms: %q", query)
	}

	stats, err := r.index.TermStats(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("no guidance matches query terms")
	}

	// Document frequency per term, then tf-idf accumulation per chunk.
	df := make(map[string]int)
	for _, ts := range stats {
		df[ts.Term]++
	}
	scores := make(map[int64]float64)
	for _, ts := range stats {
		idf := math.Log(1 + float64(total)/float64(df[ts.Term]))
		scores[ts.ChunkID] += float64(ts.Freq) * idf
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}

	chunks, err := r.index.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}

	snippets := make([]Snippet, len(chunks))
	for i, c := range chunks {
		snippets[i] = Snippet{Text: c.Content, Source: c.Source}
	}
	return snippets, nil
}

// FormatContext renders snippets as a numbered list. Each entry's text has
// newlines collapsed to spaces and is truncated to previewLen runes with a
// trailing ellipsis marker on truncated entries.
func FormatContext(snippets []Snippet, previewLen int) string {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	var sb strings.Builder
	for i, s := range snippets {
		if i > 0 {
			sb.WriteString("\n")
		}
		text := strings.Join(strings.Fields(s.Text), " ")
		runes := []rune(text)
		if len(runes) > previewLen {
			text = string(runes[:previewLen]) + "..."
		}
		sb.WriteString(fmt.Sprintf("- [%d] (%s) %s", i+1, s.Source, text))
	}
	return sb.String()
}

// stopwords are dropped during tokenization; they carry no ranking signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "with": true,
}

// Tokenize lowercases text and splits it into index terms, dropping
// stopwords and single-character fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// TermFrequencies counts term occurrences in text, for index construction.
func TermFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, t := range Tokenize(text) {
		freq[t]++
	}
	return freq
}
