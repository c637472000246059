package models

import "time"

type Section struct {
	Name string
	Page int
	Text string
}

type Paper struct {
	ID            string
	ArxivID       string
	Title         string
	Authors       []string
	Abstract      string
	Categories    []string
	PublishedDate time.Time
	PDFURL        string
	RawText       string
	Sections      []Section
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Chunk struct {
	ID           string
	PaperRef     string
	ArxivID      string
	ChunkIndex   int
	Text         string
	SectionName  string
	PageNumber   int
	WordCount    int
	Embedding    []float32
	LexicalIndex map[string]int
	CreatedAt    time.Time
}

type Conversation struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]string
}

type Source struct {
	ArxivID           string
	Title             string
	Authors           []string
	PDFURL            string
	RelevanceScore    float64
	PublishedDate     *time.Time
	WasGradedRelevant *bool
}

type ConversationTurn struct {
	ID                string
	ConversationRef   string
	TurnNumber        int
	UserQuery         string
	AgentResponse     string
	Provider          string
	Model             string
	GuardrailScore    *int
	RetrievalAttempts int
	RewrittenQuery    string
	Sources           []Source
	ReasoningSteps    []string
	CreatedAt         time.Time
}

type ConversationSummary struct {
	SessionID string
	TurnCount int
	LastQuery string
	CreatedAt time.Time
	UpdatedAt time.Time
}
