// Package ingest builds a persisted guidance index from a directory of
// documents. Markdown files are split per section, plain-text files per
// paragraph block, and every unit is indexed with a provenance label.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/trialscribe/internal/redact"
	"github.com/dshills/trialscribe/internal/retrieval"
	"github.com/dshills/trialscribe/internal/store"
)

// Indexer receives the extracted chunks and their term frequencies.
type Indexer interface {
	Replace(ctx context.Context, chunks []store.Chunk, terms map[int][]store.TermStat) error
}

// Summary reports what an ingest pass produced.
type Summary struct {
	Files  int
	Chunks int
}

// Ingest recursively enumerates guidance documents under dir, extracts text
// per unit, and replaces the persisted index. It fails if dir is absent or
// yields zero ingestible documents.
func Ingest(ctx context.Context, dir string, indexer Indexer) (*Summary, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("guidance directory not found: %s", dir)
	}

	var chunks []store.Chunk
	files := 0
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".markdown" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		content := redact.Redact(string(data))

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}

		var sections []section
		if ext == ".txt" {
			sections = plainTextSections(content)
		} else {
			sections = markdownSections([]byte(content))
		}
		for _, sec := range sections {
			chunks = append(chunks, store.Chunk{
				Source:  rel + "#" + sec.label,
				Content: sec.content,
				Words:   len(strings.Fields(sec.content)),
			})
		}
		files++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no ingestible documents found under %s", dir)
	}

	terms := make(map[int][]store.TermStat, len(chunks))
	for i, c := range chunks {
		terms[i] = termStats(c.Content)
	}

	if err := indexer.Replace(ctx, chunks, terms); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	return &Summary{Files: files, Chunks: len(chunks)}, nil
}

// termStats converts term frequencies to sorted rows for stable inserts.
func termStats(content string) []store.TermStat {
	freq := retrieval.TermFrequencies(content)
	stats := make([]store.TermStat, 0, len(freq))
	for term, n := range freq {
		stats = append(stats, store.TermStat{Term: term, Freq: n})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Term < stats[j].Term })
	return stats
}

// minBlockWords is the merge threshold for plain-text paragraph blocks.
const minBlockWords = 120

type section struct {
	label   string
	content string
}

// plainTextSections splits content on blank lines and merges consecutive
// blocks until each unit reaches a useful size.
func plainTextSections(content string) []section {
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")

	var sections []section
	var current strings.Builder
	words := 0
	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			sections = append(sections, section{
				label:   fmt.Sprintf("p%d", len(sections)+1),
				content: text,
			})
		}
		current.Reset()
		words = 0
	}

	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(b)
		words += len(strings.Fields(b))
		if words >= minBlockWords {
			flush()
		}
	}
	flush()
	return sections
}
