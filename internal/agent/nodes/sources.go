package nodes

import (
	"sort"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/pkg/logger"
)

// buildSources collapses the top_k relevant chunks into one Source record
// per paper, enriched with metadata (authors, pdf url, published date) the
// chunk itself doesn't carry. Dedup keeps the highest chunk score per
// paper and was_graded_relevant if any of its chunks were graded relevant.
func buildSources(chunks []agent.RelevantChunk, papers PaperLookup) []agent.Source {
	byArxiv := make(map[string]*agent.Source)
	order := make([]string, 0, len(chunks))

	for _, c := range chunks {
		src, ok := byArxiv[c.ArxivID]
		if !ok {
			src = &agent.Source{ArxivID: c.ArxivID, Title: c.Title, RelevanceScore: c.Score}
			if paper, err := papers.GetPaperByArxivID(c.ArxivID); err == nil && paper != nil {
				src.Authors = paper.Authors
				src.PDFURL = paper.PDFURL
				published := paper.PublishedDate
				src.PublishedDate = &published
			} else if err != nil {
				logger.Debug("source metadata lookup failed", zap.String("arxiv_id", c.ArxivID), zap.Error(err))
			}
			byArxiv[c.ArxivID] = src
			order = append(order, c.ArxivID)
		}

		if c.Score > src.RelevanceScore {
			src.RelevanceScore = c.Score
		}
		if c.WasGradedRelevant != nil && *c.WasGradedRelevant {
			graded := true
			src.WasGradedRelevant = &graded
		} else if c.WasGradedRelevant != nil && src.WasGradedRelevant == nil {
			graded := false
			src.WasGradedRelevant = &graded
		}
	}

	out := make([]agent.Source, 0, len(order))
	for _, id := range order {
		out = append(out, *byArxiv[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out
}
