// Package web adapts a general web search, used by the web_search tool when
// the indexed corpus doesn't cover a question, to the research-paper domain.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/pkg/logger"
)

type Client struct {
	serpAPIKey string
	provider   llm.Provider
	httpClient *http.Client
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Content string
}

func NewClient(serpAPIKey string, provider llm.Provider) *Client {
	return &Client{
		serpAPIKey: serpAPIKey,
		provider:   provider,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	logger.Info("performing web search", zap.String("query", query))

	optimizedQuery, err := c.optimizeQuery(ctx, query)
	if err != nil {
		logger.Warn("failed to optimize query, using original", zap.Error(err))
		optimizedQuery = query
	}

	if c.serpAPIKey != "" {
		return c.searchWithSerpAPI(ctx, optimizedQuery, maxResults)
	}

	return c.searchWithGoogle(ctx, optimizedQuery, maxResults)
}

func (c *Client) optimizeQuery(ctx context.Context, query string) (string, error) {
	if c.provider == nil {
		return query, nil
	}

	systemPrompt := `You are a search query optimizer for academic paper research.
Transform user queries into effective web search queries.

Rules:
1. Prefer arxiv.org, scholar sources, and paper abstracts
2. Add method or field keywords implied by the question
3. Keep it short

Return ONLY the optimized query, nothing else.`

	resp, err := c.provider.Complete(ctx, llm.CompleteRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Optimize this query for web search: %s", query)},
		},
		Temperature: 0.1,
		MaxTokens:   100,
	})
	if err != nil {
		return "", err
	}

	optimized := strings.TrimSpace(resp.Content)
	logger.Debug("query optimized", zap.String("original", query), zap.String("optimized", optimized))
	return optimized, nil
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	baseURL := "https://serpapi.com/search"
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s?%s", baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		content, err := c.scrapeContent(r.Link)
		if err != nil {
			logger.Warn("failed to scrape content", zap.String("url", r.Link), zap.Error(err))
			content = r.Snippet
		}

		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Content: content,
		})
	}

	logger.Info("web search completed", zap.Int("results", len(results)))
	return results, nil
}

func (c *Client) searchWithGoogle(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchQuery := url.QueryEscape(fmt.Sprintf("site:arxiv.org OR site:scholar.google.com %s", query))
	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&num=%d", searchQuery, maxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]SearchResult, 0)
	doc.Find("div.g").Each(func(i int, s *goquery.Selection) {
		if i >= maxResults {
			return
		}

		title := s.Find("h3").Text()
		link, _ := s.Find("a").Attr("href")
		snippet := s.Find("div.VwiC3b").Text()

		if title != "" && link != "" {
			content, err := c.scrapeContent(link)
			if err != nil {
				content = snippet
			}

			results = append(results, SearchResult{
				Title:   title,
				URL:     link,
				Snippet: snippet,
				Content: content,
			})
		}
	})

	logger.Info("google search completed", zap.Int("results", len(results)))
	return results, nil
}

func (c *Client) scrapeContent(urlStr string) (string, error) {
	resp, err := c.httpClient.Get(urlStr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())

	if len(text) > 5000 {
		text = text[:5000]
	}

	return text, nil
}

// ShouldTrigger decides whether the web_search tool is worth calling given
// how many corpus chunks the retrieval branch already turned up.
func ShouldTrigger(corpusResultsCount int, topScore float64) bool {
	if corpusResultsCount < 3 {
		return true
	}
	return topScore < 0.5
}
