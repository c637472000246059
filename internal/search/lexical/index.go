// Package lexical implements the lexical branch of hybrid search: a
// TF-IDF-style ranking over a deterministic, prose-tokenized inverted
// index built from each chunk's precomputed lexical_index.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"

	"github.com/researchagent/backend/internal/storage/models"
)

type ScoredChunk struct {
	ArxivID string
	ChunkID string
	Score   float32
}

type Filter struct {
	ArxivIDs []string
}

type Index struct {
	chunks  []models.Chunk
	docFreq map[string]int
	n       int
}

func NewIndex(chunks []models.Chunk) *Index {
	docFreq := make(map[string]int)
	for _, c := range chunks {
		for term := range c.LexicalIndex {
			docFreq[term]++
		}
	}
	return &Index{chunks: chunks, docFreq: docFreq, n: len(chunks)}
}

// Tokenize lowercases and strips non-alphanumeric tokens produced by prose's
// tokenizer, deterministically, with no POS tagging or NER (disabled for
// speed since only token boundaries are needed here).
func Tokenize(text string) []string {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.TrimFunc(tok.Text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if word == "" {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// BuildLexicalIndex derives a chunk's deterministic token->count map from
// its text, the representation the chunk entity's lexical_index stores.
func BuildLexicalIndex(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	return counts
}

func (ix *Index) Search(query string, n int, filter Filter) []ScoredChunk {
	queryTerms := Tokenize(query)
	allowed := allowSet(filter)

	type scored struct {
		chunk models.Chunk
		score float32
	}
	var candidates []scored

	for _, c := range ix.chunks {
		if allowed != nil && !allowed[c.ArxivID] {
			continue
		}
		score := ix.tfidfScore(c, queryTerms)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if n > len(candidates) {
		n = len(candidates)
	}

	out := make([]ScoredChunk, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, ScoredChunk{ArxivID: c.chunk.ArxivID, ChunkID: c.chunk.ID, Score: c.score})
	}
	return out
}

func (ix *Index) tfidfScore(chunk models.Chunk, queryTerms []string) float32 {
	if chunk.WordCount == 0 || len(chunk.LexicalIndex) == 0 {
		return 0
	}

	var score float64
	for _, term := range queryTerms {
		count, ok := chunk.LexicalIndex[term]
		if !ok {
			continue
		}
		tf := float64(count) / float64(chunk.WordCount)
		idf := math.Log(float64(ix.n+1)/float64(1+ix.docFreq[term])) + 1
		score += tf * idf
	}
	return float32(score)
}

func allowSet(filter Filter) map[string]bool {
	if len(filter.ArxivIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(filter.ArxivIDs))
	for _, id := range filter.ArxivIDs {
		set[id] = true
	}
	return set
}
