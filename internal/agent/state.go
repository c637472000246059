package agent

import (
	"strconv"
	"time"
)

type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

type Source struct {
	ArxivID           string     `json:"arxiv_id"`
	Title             string     `json:"title"`
	Authors           []string   `json:"authors"`
	PDFURL            string     `json:"pdf_url"`
	RelevanceScore    float64    `json:"relevance_score"`
	PublishedDate     *time.Time `json:"published_date,omitempty"`
	WasGradedRelevant *bool      `json:"was_graded_relevant,omitempty"`
}

type GuardrailResult struct {
	Score     int
	Reasoning string
	InScope   bool
}

type RouterDecision struct {
	NextTool       string
	ToolArgs       map[string]interface{}
	Rationale      string
	ShouldGenerate bool
}

type ToolCall struct {
	ToolName  string
	Args      map[string]interface{}
	Success   bool
	Summary   string
	StartedAt time.Time
	EndedAt   time.Time
}

type RelevantChunk struct {
	ArxivID           string
	ChunkIndex        int
	ChunkID           string
	Title             string
	ChunkText         string
	SectionName       string
	PageNumber        int
	Score             float64
	WasGradedRelevant *bool
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Config struct {
	Provider             string
	Model                string
	Temperature          float32
	OutOfScopeTemperature float32
	TopK                  int
	GuardrailThreshold    int
	MaxRetrievalAttempts  int
	ConversationWindow    int
	MaxIterations         int
}

// State is the state-machine record threaded through every graph node.
type State struct {
	OriginalQuery       string
	CurrentQuery        string
	ConversationHistory []Message
	SessionID           string

	GuardrailResult *GuardrailResult
	RouterDecision  *RouterDecision

	ToolHistory    []ToolCall
	RelevantChunks []RelevantChunk

	Iteration         int
	RetrievalAttempts int

	Status         Status
	ReasoningSteps []string
	FinalAnswer    string
	Sources        []Source

	Config Config

	FailureReason string
}

func NewState(query string, history []Message, sessionID string, cfg Config) *State {
	return &State{
		OriginalQuery:        query,
		CurrentQuery:         query,
		ConversationHistory:  history,
		SessionID:            sessionID,
		Status:               StatusRunning,
		Config:               cfg,
	}
}

func (s *State) AddReasoningStep(step string) {
	s.ReasoningSteps = append(s.ReasoningSteps, step)
}

// MergeChunks implements the executor's union-by-(arxiv_id, chunk_index)
// merge rule, preserving the maximum score per key, ordered by score desc.
func (s *State) MergeChunks(incoming []RelevantChunk) {
	byKey := make(map[string]RelevantChunk, len(s.RelevantChunks)+len(incoming))
	order := make([]string, 0, len(s.RelevantChunks)+len(incoming))

	add := func(c RelevantChunk) {
		key := c.ArxivID + "#" + strconv.Itoa(c.ChunkIndex)
		if existing, ok := byKey[key]; ok {
			if c.Score > existing.Score {
				byKey[key] = c
			}
			return
		}
		byKey[key] = c
		order = append(order, key)
	}

	for _, c := range s.RelevantChunks {
		add(c)
	}
	for _, c := range incoming {
		add(c)
	}

	merged := make([]RelevantChunk, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}

	sortChunksByScoreDesc(merged)
	s.RelevantChunks = merged
}

func sortChunksByScoreDesc(chunks []RelevantChunk) {
	for i := 1; i < len(chunks); i++ {
		j := i
		for j > 0 && chunks[j-1].Score < chunks[j].Score {
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
			j--
		}
	}
}

