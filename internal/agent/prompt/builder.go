// Package prompt deterministically assembles the system and user prompt
// text every graph node sends to the LLM, from fixed building blocks.
package prompt

import (
	"fmt"
	"strings"
)

type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

type ChunkRef struct {
	ArxivID string
	Title   string
	Text    string
}

const conversationTruncate = 500

// Builder chains block-by-block the same way the agent's prompt assembly
// does: conversation, retrieved context, query, notes, in that fixed order.
type Builder struct {
	systemTemplate string
	history        []Message
	window         int
	chunks         []ChunkRef
	queryLabel     string
	query          string
	notes          []string
}

func New(systemTemplate string) *Builder {
	return &Builder{systemTemplate: systemTemplate, queryLabel: "Question"}
}

func (b *Builder) WithConversation(history []Message, window int) *Builder {
	b.history = history
	b.window = window
	return b
}

func (b *Builder) WithRetrievedContext(chunks []ChunkRef) *Builder {
	b.chunks = chunks
	return b
}

func (b *Builder) WithQuery(label, query string) *Builder {
	if label != "" {
		b.queryLabel = label
	}
	b.query = query
	return b
}

func (b *Builder) WithNote(note string) *Builder {
	if note != "" {
		b.notes = append(b.notes, note)
	}
	return b
}

func (b *Builder) Build() (system, user string) {
	var blocks []string

	if conv := b.conversationBlock(); conv != "" {
		blocks = append(blocks, conv)
	}
	if ctx := b.contextBlock(); ctx != "" {
		blocks = append(blocks, ctx)
	}
	blocks = append(blocks, fmt.Sprintf("%s: %s", b.queryLabel, b.query))
	for _, note := range b.notes {
		blocks = append(blocks, note)
	}

	return b.systemTemplate, strings.Join(blocks, "\n\n")
}

func (b *Builder) conversationBlock() string {
	if len(b.history) == 0 {
		return ""
	}

	window := b.window
	if window <= 0 {
		window = len(b.history)
	}
	maxMessages := window * 2
	recent := b.history
	if len(recent) > maxMessages {
		recent = recent[len(recent)-maxMessages:]
	}
	if len(recent) == 0 {
		return ""
	}

	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		prefix := "User"
		if m.Role == "assistant" {
			prefix = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", prefix, truncate(m.Content, conversationTruncate)))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) contextBlock() string {
	if len(b.chunks) == 0 {
		return ""
	}

	parts := make([]string, 0, len(b.chunks))
	for _, c := range b.chunks {
		parts = append(parts, fmt.Sprintf("[%s] %s\n%s", c.ArxivID, c.Title, c.Text))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
