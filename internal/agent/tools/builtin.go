package tools

import (
	"context"

	"github.com/researchagent/backend/internal/search"
	"github.com/researchagent/backend/internal/search/web"
)

const (
	RetrieveChunks = "retrieve_chunks"
	WebSearch      = "web_search"
	ListPapers     = "list_papers"
	IngestPapers   = "ingest_papers"
)

// RegisterBuiltins wires the engine-backed tools into r. web may be nil, in
// which case the web_search tool always reports unavailable rather than
// registering a handler that would panic on a nil receiver.
func RegisterBuiltins(r *Registry, engine *search.Engine, webClient *web.Client) error {
	if err := r.Register(retrieveChunksSpec(engine)); err != nil {
		return err
	}
	if err := r.Register(listPapersSpec(engine)); err != nil {
		return err
	}
	if err := r.Register(webSearchSpec(webClient)); err != nil {
		return err
	}
	if err := r.Register(ingestPapersSpec()); err != nil {
		return err
	}
	return nil
}

func retrieveChunksSpec(engine *search.Engine) Spec {
	return Spec{
		Name:        RetrieveChunks,
		Description: "Retrieve the most relevant passages from the indexed paper corpus for a query.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":  map[string]interface{}{"type": "string"},
				"top_k":  map[string]interface{}{"type": "integer"},
				"arxiv_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) Result {
			query, _ := args["query"].(string)
			if query == "" {
				return Result{Success: false, Error: "query is required"}
			}
			topK := 3
			if v, ok := args["top_k"].(float64); ok && v > 0 {
				topK = int(v)
			}
			filters := search.Filters{ArxivIDs: stringSlice(args["arxiv_ids"])}

			chunks, err := engine.Search(ctx, query, topK, filters)
			if err != nil {
				return Result{Success: false, Error: err.Error()}
			}
			return Result{Success: true, Data: chunks}
		},
	}
}

func listPapersSpec(engine *search.Engine) Spec {
	return Spec{
		Name:        ListPapers,
		Description: "List papers in the indexed corpus, optionally filtered by arxiv id.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"arxiv_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"limit":     map[string]interface{}{"type": "integer"},
				"offset":    map[string]interface{}{"type": "integer"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) Result {
			limit := 20
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			offset := 0
			if v, ok := args["offset"].(float64); ok && v > 0 {
				offset = int(v)
			}

			papers, total, err := engine.ListPapers(search.Filters{ArxivIDs: stringSlice(args["arxiv_ids"])}, limit, offset)
			if err != nil {
				return Result{Success: false, Error: err.Error()}
			}
			return Result{Success: true, Data: map[string]interface{}{"papers": papers, "total": total}}
		},
	}
}

func webSearchSpec(webClient *web.Client) Spec {
	return Spec{
		Name:        WebSearch,
		Description: "Search the public web when the indexed paper corpus doesn't cover a question.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string"},
				"max_results": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) Result {
			if webClient == nil {
				return Result{Success: false, Error: "web search is not configured"}
			}
			query, _ := args["query"].(string)
			if query == "" {
				return Result{Success: false, Error: "query is required"}
			}
			maxResults := 5
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				maxResults = int(v)
			}

			results, err := webClient.Search(ctx, query, maxResults)
			if err != nil {
				return Result{Success: false, Error: err.Error()}
			}
			return Result{Success: true, Data: results}
		},
	}
}

// ingest_papers is out of scope: ingestion is a separate offline pipeline,
// so the tool exists for the router's schema awareness but always declines.
func ingestPapersSpec() Spec {
	return Spec{
		Name:        IngestPapers,
		Description: "Ingest new papers into the corpus. Not available from the conversational agent.",
		ParameterSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) Result {
			return Result{Success: false, Error: "ingestion is not available through this interface"}
		},
	}
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
