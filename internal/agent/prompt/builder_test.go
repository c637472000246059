package prompt

import (
	"strings"
	"testing"
)

func TestBuild_Deterministic(t *testing.T) {
	build := func() (string, string) {
		return New(SystemAnswer).
			WithConversation([]Message{
				{Role: "user", Content: "Tell me about BERT."},
				{Role: "assistant", Content: "BERT is a bidirectional transformer."},
			}, 5).
			WithRetrievedContext([]ChunkRef{
				{ArxivID: "1810.04805", Title: "BERT", Text: "We introduce BERT."},
			}).
			WithQuery("Question", "How does it differ from GPT?").
			WithNote("Limited sources found").
			Build()
	}

	sys1, user1 := build()
	sys2, user2 := build()

	if sys1 != sys2 {
		t.Errorf("system text not deterministic:\n%q\n%q", sys1, sys2)
	}
	if user1 != user2 {
		t.Errorf("user text not deterministic:\n%q\n%q", user1, user2)
	}
}

func TestBuild_BlockOrder(t *testing.T) {
	_, user := New(SystemAnswer).
		WithConversation([]Message{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "first answer"},
		}, 5).
		WithRetrievedContext([]ChunkRef{
			{ArxivID: "1706.03762", Title: "Attention Is All You Need", Text: "The Transformer."},
		}).
		WithQuery("Question", "what is attention?").
		WithNote("a note").
		Build()

	conv := strings.Index(user, "User: first question")
	ctx := strings.Index(user, "[1706.03762] Attention Is All You Need")
	query := strings.Index(user, "Question: what is attention?")
	note := strings.Index(user, "a note")

	for name, idx := range map[string]int{"conversation": conv, "context": ctx, "query": query, "note": note} {
		if idx < 0 {
			t.Fatalf("%s block missing from user text:\n%s", name, user)
		}
	}
	if !(conv < ctx && ctx < query && query < note) {
		t.Errorf("blocks out of order: conv=%d ctx=%d query=%d note=%d", conv, ctx, query, note)
	}
}

func TestBuild_EmptyBlocksOmitted(t *testing.T) {
	_, user := New(SystemAnswer).WithQuery("Question", "hello").Build()

	if strings.Contains(user, "User:") || strings.Contains(user, "Assistant:") {
		t.Errorf("empty conversation should be omitted entirely, got:\n%s", user)
	}
	if user != "Question: hello" {
		t.Errorf("user text = %q, want %q", user, "Question: hello")
	}
}

func TestBuild_CustomQueryLabel(t *testing.T) {
	_, user := New(SystemRewriter).WithQuery("Current question", "foo").Build()
	if !strings.HasPrefix(user, "Current question: foo") {
		t.Errorf("custom label not applied: %q", user)
	}
}

func TestConversationBlock_Window(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
		{Role: "assistant", Content: "a2"},
		{Role: "user", Content: "q3"},
		{Role: "assistant", Content: "a3"},
	}

	_, user := New(SystemAnswer).WithConversation(history, 2).WithQuery("Question", "next").Build()

	if strings.Contains(user, "q1") || strings.Contains(user, "a1") {
		t.Errorf("messages outside the window leaked into prompt:\n%s", user)
	}
	for _, want := range []string{"User: q2", "Assistant: a2", "User: q3", "Assistant: a3"} {
		if !strings.Contains(user, want) {
			t.Errorf("expected %q in prompt:\n%s", want, user)
		}
	}

	q2 := strings.Index(user, "User: q2")
	q3 := strings.Index(user, "User: q3")
	if q2 > q3 {
		t.Error("conversation not in chronological order")
	}
}

func TestConversationBlock_Truncation(t *testing.T) {
	long := strings.Repeat("x", 900)
	_, user := New(SystemAnswer).
		WithConversation([]Message{{Role: "user", Content: long}}, 5).
		WithQuery("Question", "next").
		Build()

	if strings.Contains(user, long) {
		t.Error("900-char message was not truncated")
	}
	if !strings.Contains(user, strings.Repeat("x", 500)+"...") {
		t.Error("truncation marker missing")
	}
}

func TestContextBlock_Format(t *testing.T) {
	_, user := New(SystemAnswer).
		WithRetrievedContext([]ChunkRef{
			{ArxivID: "1111.1111", Title: "First", Text: "alpha"},
			{ArxivID: "2222.2222", Title: "Second", Text: "beta"},
		}).
		WithQuery("Question", "q").
		Build()

	if !strings.Contains(user, "[1111.1111] First\nalpha\n\n[2222.2222] Second\nbeta") {
		t.Errorf("context block format wrong:\n%s", user)
	}
}

func TestWithNote_EmptyIgnored(t *testing.T) {
	_, user := New(SystemAnswer).WithQuery("Question", "q").WithNote("").Build()
	if user != "Question: q" {
		t.Errorf("empty note should add nothing, got %q", user)
	}
}
