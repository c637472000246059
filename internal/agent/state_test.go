package agent

import "testing"

func TestNewState_Initial(t *testing.T) {
	cfg := Config{TopK: 3, GuardrailThreshold: 75, MaxRetrievalAttempts: 3, MaxIterations: 10}
	s := NewState("what is attention?", nil, "sess-1", cfg)

	if s.OriginalQuery != "what is attention?" || s.CurrentQuery != s.OriginalQuery {
		t.Errorf("query fields not initialized: original=%q current=%q", s.OriginalQuery, s.CurrentQuery)
	}
	if s.Status != StatusRunning {
		t.Errorf("status = %q, want running", s.Status)
	}
	if s.Iteration != 0 || s.RetrievalAttempts != 0 {
		t.Errorf("counters should start at zero, got iteration=%d attempts=%d", s.Iteration, s.RetrievalAttempts)
	}
	if s.SessionID != "sess-1" {
		t.Errorf("session id = %q", s.SessionID)
	}
}

func TestAddReasoningStep(t *testing.T) {
	s := NewState("q", nil, "", Config{})
	s.AddReasoningStep("first")
	s.AddReasoningStep("second")

	if len(s.ReasoningSteps) != 2 || s.ReasoningSteps[0] != "first" || s.ReasoningSteps[1] != "second" {
		t.Errorf("reasoning steps = %v", s.ReasoningSteps)
	}
}

func TestMergeChunks_UnionByKey(t *testing.T) {
	s := NewState("q", nil, "", Config{})

	s.MergeChunks([]RelevantChunk{
		{ArxivID: "1706.03762", ChunkIndex: 0, Score: 0.9},
		{ArxivID: "1706.03762", ChunkIndex: 1, Score: 0.5},
	})
	s.MergeChunks([]RelevantChunk{
		{ArxivID: "1706.03762", ChunkIndex: 1, Score: 0.7},
		{ArxivID: "1810.04805", ChunkIndex: 0, Score: 0.6},
	})

	if len(s.RelevantChunks) != 3 {
		t.Fatalf("expected 3 distinct chunks after union, got %d: %+v", len(s.RelevantChunks), s.RelevantChunks)
	}
}

func TestMergeChunks_KeepsMaxScore(t *testing.T) {
	s := NewState("q", nil, "", Config{})

	s.MergeChunks([]RelevantChunk{{ArxivID: "a", ChunkIndex: 0, Score: 0.4}})
	s.MergeChunks([]RelevantChunk{{ArxivID: "a", ChunkIndex: 0, Score: 0.8}})
	s.MergeChunks([]RelevantChunk{{ArxivID: "a", ChunkIndex: 0, Score: 0.2}})

	if len(s.RelevantChunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(s.RelevantChunks))
	}
	if s.RelevantChunks[0].Score != 0.8 {
		t.Errorf("score = %v, want max of merged scores 0.8", s.RelevantChunks[0].Score)
	}
}

func TestMergeChunks_OrderedByScoreDesc(t *testing.T) {
	s := NewState("q", nil, "", Config{})

	s.MergeChunks([]RelevantChunk{
		{ArxivID: "a", ChunkIndex: 0, Score: 0.2},
		{ArxivID: "b", ChunkIndex: 0, Score: 0.9},
		{ArxivID: "c", ChunkIndex: 0, Score: 0.5},
	})

	for i := 1; i < len(s.RelevantChunks); i++ {
		if s.RelevantChunks[i-1].Score < s.RelevantChunks[i].Score {
			t.Errorf("chunks not ordered by score desc: %+v", s.RelevantChunks)
		}
	}
}

func TestMergeChunks_PreservesGradedFlag(t *testing.T) {
	graded := true
	s := NewState("q", nil, "", Config{})
	s.MergeChunks([]RelevantChunk{{ArxivID: "a", ChunkIndex: 0, Score: 0.9, WasGradedRelevant: &graded}})

	// A re-retrieval of the same chunk with a lower score must not clobber
	// the higher-scored, already-graded entry.
	s.MergeChunks([]RelevantChunk{{ArxivID: "a", ChunkIndex: 0, Score: 0.3}})

	if len(s.RelevantChunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(s.RelevantChunks))
	}
	if s.RelevantChunks[0].WasGradedRelevant == nil || !*s.RelevantChunks[0].WasGradedRelevant {
		t.Error("graded flag lost on merge with lower-scored duplicate")
	}
}
