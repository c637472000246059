package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/agent/tools"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/internal/search"
	"github.com/researchagent/backend/internal/storage/models"
)

// fakeProvider scripts structured responses per prompt template and replays
// a fixed token stream, recording the requests it saw.
type fakeProvider struct {
	structured    map[string][]string
	structuredErr map[string]error
	tokens        []string
	streamErr     error
	lastStreamReq llm.CompleteRequest
	streamCalls   int
}

func promptKind(req llm.CompleteRequest) string {
	switch req.Messages[0].Content {
	case prompt.SystemGuardrail:
		return "guardrail"
	case prompt.SystemRouter:
		return "router"
	case prompt.SystemGrader:
		return "grader"
	case prompt.SystemRewriter:
		return "rewriter"
	case prompt.SystemAnswer:
		return "answer"
	case prompt.SystemOutOfScope:
		return "out_of_scope"
	}
	return "unknown"
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	return &llm.CompleteResponse{Content: "unscripted"}, nil
}

func (f *fakeProvider) CompleteStructured(ctx context.Context, req llm.CompleteRequest, target interface{}) error {
	kind := promptKind(req)
	if err := f.structuredErr[kind]; err != nil {
		return err
	}
	queue := f.structured[kind]
	if len(queue) == 0 {
		return fmt.Errorf("no scripted %s response", kind)
	}
	payload := queue[0]
	f.structured[kind] = queue[1:]
	return json.Unmarshal([]byte(payload), target)
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.CompleteRequest, onToken func(string) error) error {
	f.lastStreamReq = req
	f.streamCalls++
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		structured:    make(map[string][]string),
		structuredErr: make(map[string]error),
		tokens:        []string{"Attention", " weighs", " tokens."},
	}
}

type fakePapers struct{}

func (fakePapers) GetPaperByArxivID(arxivID string) (*models.Paper, error) {
	return &models.Paper{
		ArxivID: arxivID,
		Title:   "Paper " + arxivID,
		Authors: []string{"First Author", "Second Author"},
		PDFURL:  "https://arxiv.org/pdf/" + arxivID,
	}, nil
}

func stubRetrieveSpec(chunks []search.ResultChunk, fail string) tools.Spec {
	return tools.Spec{
		Name:        tools.RetrieveChunks,
		Description: "stub retrieval",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) tools.Result {
			if fail != "" {
				return tools.Result{Success: false, Error: fail}
			}
			return tools.Result{Success: true, Data: chunks}
		},
	}
}

func newDeps(f *fakeProvider, specs ...tools.Spec) *Deps {
	providers := llm.NewRegistry("fake")
	providers.Register(f)

	registry := tools.NewRegistry()
	for _, spec := range specs {
		registry.MustRegister(spec)
	}

	return &Deps{Providers: providers, Tools: registry, Papers: fakePapers{}}
}

func testConfig() agent.Config {
	return agent.Config{
		Provider:              "fake",
		Temperature:           0.3,
		OutOfScopeTemperature: 0.7,
		TopK:                  3,
		GuardrailThreshold:    75,
		MaxRetrievalAttempts:  3,
		ConversationWindow:    5,
		MaxIterations:         10,
	}
}

func newSink() *agent.Sink { return agent.NewSink(256) }

func collect(sink *agent.Sink) []agent.Event {
	sink.Close()
	var out []agent.Event
	for e := range sink.Events() {
		out = append(out, e)
	}
	return out
}

func hasReasoningStep(state *agent.State, substr string) bool {
	for _, s := range state.ReasoningSteps {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// --- Guardrail ---

func TestGuardrail_InScope(t *testing.T) {
	f := newFakeProvider()
	f.structured["guardrail"] = []string{`{"score": 90, "reasoning": "about transformers"}`}

	state := agent.NewState("what is attention?", nil, "", testConfig())
	sink := newSink()

	if err := Guardrail(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("guardrail failed: %v", err)
	}

	if state.GuardrailResult == nil || !state.GuardrailResult.InScope || state.GuardrailResult.Score != 90 {
		t.Errorf("result = %+v", state.GuardrailResult)
	}

	events := collect(sink)
	if len(events) != 2 || events[0].Step != agent.StepGuardrail || events[1].Step != agent.StepGuardrail {
		t.Errorf("expected entry and exit status events, got %+v", events)
	}
}

func TestGuardrail_BelowThreshold(t *testing.T) {
	f := newFakeProvider()
	f.structured["guardrail"] = []string{`{"score": 20, "reasoning": "pizza is not a paper"}`}

	state := agent.NewState("best pizza in Naples?", nil, "", testConfig())
	sink := newSink()

	if err := Guardrail(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("guardrail failed: %v", err)
	}
	if state.GuardrailResult.InScope {
		t.Errorf("score 20 under threshold 75 should be out of scope: %+v", state.GuardrailResult)
	}
	collect(sink)
}

func TestGuardrail_FallbackOnLLMFailure(t *testing.T) {
	f := newFakeProvider()
	f.structuredErr["guardrail"] = errors.New("timeout")

	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Guardrail(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("guardrail fallback should not error: %v", err)
	}
	if state.GuardrailResult == nil || !state.GuardrailResult.InScope || state.GuardrailResult.Score != 0 {
		t.Errorf("fallback should default in_scope=true score=0: %+v", state.GuardrailResult)
	}
	if !hasReasoningStep(state, "guardrail fallback") {
		t.Errorf("fallback not recorded: %v", state.ReasoningSteps)
	}
	collect(sink)
}

// --- Router ---

func TestRouter_SelectsTool(t *testing.T) {
	f := newFakeProvider()
	f.structured["router"] = []string{`{"next_tool": "retrieve_chunks", "tool_args": {"query": "attention"}, "rationale": "need evidence", "should_generate": false}`}

	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Router(context.Background(), state, newDeps(f, stubRetrieveSpec(nil, "")), sink); err != nil {
		t.Fatalf("router failed: %v", err)
	}
	d := state.RouterDecision
	if d == nil || d.NextTool != "retrieve_chunks" || d.ShouldGenerate {
		t.Errorf("decision = %+v", d)
	}
	collect(sink)
}

func TestRouter_UnregisteredToolFallsBack(t *testing.T) {
	f := newFakeProvider()
	f.structured["router"] = []string{`{"next_tool": "time_travel", "rationale": "r", "should_generate": false}`}

	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Router(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("router failed: %v", err)
	}
	if !state.RouterDecision.ShouldGenerate {
		t.Errorf("unregistered tool should force generation: %+v", state.RouterDecision)
	}
	if !hasReasoningStep(state, "router fallback") {
		t.Errorf("fallback not recorded: %v", state.ReasoningSteps)
	}
	collect(sink)
}

func TestRouter_LLMFailureForcesGeneration(t *testing.T) {
	f := newFakeProvider()
	f.structuredErr["router"] = errors.New("rate limited")

	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Router(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("router fallback should not error: %v", err)
	}
	if !state.RouterDecision.ShouldGenerate {
		t.Errorf("decision = %+v", state.RouterDecision)
	}
	collect(sink)
}

func TestRouter_EmptyDecisionFallsBack(t *testing.T) {
	f := newFakeProvider()
	f.structured["router"] = []string{`{"rationale": "hmm", "should_generate": false}`}

	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Router(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("router failed: %v", err)
	}
	if !state.RouterDecision.ShouldGenerate {
		t.Errorf("neither tool nor generate should fall back to generation: %+v", state.RouterDecision)
	}
	collect(sink)
}

func TestRouter_FlagsRepeatedToolCall(t *testing.T) {
	f := newFakeProvider()
	f.structured["router"] = []string{`{"next_tool": "retrieve_chunks", "tool_args": {"query": "attention"}, "rationale": "again", "should_generate": false}`}

	state := agent.NewState("q", nil, "", testConfig())
	state.ToolHistory = []agent.ToolCall{
		{ToolName: "retrieve_chunks", Args: map[string]interface{}{"query": "attention"}, Success: true},
	}
	sink := newSink()

	if err := Router(context.Background(), state, newDeps(f, stubRetrieveSpec(nil, "")), sink); err != nil {
		t.Fatalf("router failed: %v", err)
	}
	if state.RouterDecision.ShouldGenerate {
		t.Error("repeat call must be surfaced, not forbidden")
	}
	if !hasReasoningStep(state, "repeated tool call") {
		t.Errorf("repeat not surfaced in reasoning steps: %v", state.ReasoningSteps)
	}
	collect(sink)
}

// --- Executor ---

func sampleChunks() []search.ResultChunk {
	return []search.ResultChunk{
		{ArxivID: "1706.03762", Title: "Attention Is All You Need", ChunkID: "c1", ChunkIndex: 0, ChunkText: "scaled dot product", Score: 1.0},
		{ArxivID: "1706.03762", Title: "Attention Is All You Need", ChunkID: "c2", ChunkIndex: 1, ChunkText: "positional encoding", Score: 0.8},
	}
}

func TestExecutor_RetrievalSuccess(t *testing.T) {
	f := newFakeProvider()
	state := agent.NewState("q", nil, "", testConfig())
	state.RouterDecision = &agent.RouterDecision{
		NextTool: "retrieve_chunks",
		ToolArgs: map[string]interface{}{"query": "attention"},
	}
	sink := newSink()

	if err := Executor(context.Background(), state, newDeps(f, stubRetrieveSpec(sampleChunks(), "")), sink); err != nil {
		t.Fatalf("executor failed: %v", err)
	}

	if state.RetrievalAttempts != 1 {
		t.Errorf("retrieval attempts = %d, want 1", state.RetrievalAttempts)
	}
	if len(state.RelevantChunks) != 2 {
		t.Errorf("chunks = %+v", state.RelevantChunks)
	}
	if len(state.ToolHistory) != 1 {
		t.Fatalf("tool history = %+v", state.ToolHistory)
	}
	call := state.ToolHistory[0]
	if !call.Success || call.ToolName != "retrieve_chunks" {
		t.Errorf("call = %+v", call)
	}
	if call.StartedAt.IsZero() || call.EndedAt.Before(call.StartedAt) {
		t.Errorf("timestamps wrong: started=%v ended=%v", call.StartedAt, call.EndedAt)
	}
	collect(sink)
}

func TestExecutor_MissingRequiredArg(t *testing.T) {
	f := newFakeProvider()
	state := agent.NewState("q", nil, "", testConfig())
	state.RouterDecision = &agent.RouterDecision{NextTool: "retrieve_chunks", ToolArgs: map[string]interface{}{}}
	sink := newSink()

	if err := Executor(context.Background(), state, newDeps(f, stubRetrieveSpec(sampleChunks(), "")), sink); err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if state.RetrievalAttempts != 0 {
		t.Errorf("invalid args must not count as a retrieval attempt: %d", state.RetrievalAttempts)
	}
	if len(state.ToolHistory) != 1 || state.ToolHistory[0].Success {
		t.Errorf("tool history = %+v", state.ToolHistory)
	}
	collect(sink)
}

func TestExecutor_UnknownTool(t *testing.T) {
	f := newFakeProvider()
	state := agent.NewState("q", nil, "", testConfig())
	state.RouterDecision = &agent.RouterDecision{NextTool: "ghost"}
	sink := newSink()

	if err := Executor(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if len(state.ToolHistory) != 1 || state.ToolHistory[0].Success {
		t.Errorf("tool history = %+v", state.ToolHistory)
	}
	collect(sink)
}

func TestExecutor_ToolFailureRecorded(t *testing.T) {
	f := newFakeProvider()
	state := agent.NewState("q", nil, "", testConfig())
	state.RouterDecision = &agent.RouterDecision{
		NextTool: "retrieve_chunks",
		ToolArgs: map[string]interface{}{"query": "attention"},
	}
	sink := newSink()

	deps := newDeps(f, stubRetrieveSpec(nil, "index unavailable"))
	if err := Executor(context.Background(), state, deps, sink); err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if state.RetrievalAttempts != 0 {
		t.Errorf("failed retrieval must not count: %d", state.RetrievalAttempts)
	}
	call := state.ToolHistory[0]
	if call.Success || call.Summary != "index unavailable" {
		t.Errorf("call = %+v", call)
	}
	if !hasReasoningStep(state, "failed") {
		t.Errorf("failure not noted in reasoning steps: %v", state.ReasoningSteps)
	}
	collect(sink)
}

// --- Grader ---

func gradedState(n int) *agent.State {
	state := agent.NewState("q", nil, "", testConfig())
	for i := 0; i < n; i++ {
		state.RelevantChunks = append(state.RelevantChunks, agent.RelevantChunk{
			ArxivID: "1706.03762", ChunkIndex: i, ChunkID: fmt.Sprintf("c%d", i), ChunkText: "text", Score: 1.0 - float64(i)*0.1,
		})
	}
	return state
}

func TestGrader_LabelsEachChunk(t *testing.T) {
	f := newFakeProvider()
	f.structured["grader"] = []string{`{"results": [{"relevant": true, "reason": "on point"}, {"relevant": false, "reason": "adjacent"}]}`}

	state := gradedState(2)
	sink := newSink()

	if err := Grader(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("grader failed: %v", err)
	}

	if state.RelevantChunks[0].WasGradedRelevant == nil || !*state.RelevantChunks[0].WasGradedRelevant {
		t.Errorf("chunk 0 should be graded relevant: %+v", state.RelevantChunks[0])
	}
	if state.RelevantChunks[1].WasGradedRelevant == nil || *state.RelevantChunks[1].WasGradedRelevant {
		t.Errorf("chunk 1 should be graded not relevant: %+v", state.RelevantChunks[1])
	}
	collect(sink)
}

func TestGrader_NoChunksNoLLMCall(t *testing.T) {
	f := newFakeProvider()
	state := agent.NewState("q", nil, "", testConfig())
	sink := newSink()

	if err := Grader(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("grader failed: %v", err)
	}
	collect(sink)

	if len(state.ReasoningSteps) != 0 {
		t.Errorf("grader with no chunks should neither call the LLM nor fall back, got steps %v", state.ReasoningSteps)
	}
}

func TestGrader_CountMismatchAcceptsAll(t *testing.T) {
	f := newFakeProvider()
	f.structured["grader"] = []string{`{"results": [{"relevant": false, "reason": "short"}]}`}

	state := gradedState(2)
	sink := newSink()

	if err := Grader(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("grader failed: %v", err)
	}
	for i, c := range state.RelevantChunks {
		if c.WasGradedRelevant == nil || !*c.WasGradedRelevant {
			t.Errorf("chunk %d should be accepted on malformed grading: %+v", i, c)
		}
	}
	if !hasReasoningStep(state, "grader fallback") {
		t.Errorf("fallback not recorded: %v", state.ReasoningSteps)
	}
	collect(sink)
}

func TestGrader_LLMFailureAcceptsAll(t *testing.T) {
	f := newFakeProvider()
	f.structuredErr["grader"] = errors.New("timeout")

	state := gradedState(3)
	sink := newSink()

	if err := Grader(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("grader fallback should not error: %v", err)
	}
	for i, c := range state.RelevantChunks {
		if c.WasGradedRelevant == nil || !*c.WasGradedRelevant {
			t.Errorf("chunk %d not accepted: %+v", i, c)
		}
	}
	collect(sink)
}

// --- Rewriter ---

func TestRewriter_UpdatesQuery(t *testing.T) {
	f := newFakeProvider()
	f.structured["rewriter"] = []string{`{"rewritten_query": "attention mechanism transformers", "reason": "broadened terms"}`}

	state := agent.NewState("what about attention?", nil, "", testConfig())
	sink := newSink()

	if err := Rewriter(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("rewriter failed: %v", err)
	}
	if state.CurrentQuery != "attention mechanism transformers" {
		t.Errorf("current query = %q", state.CurrentQuery)
	}
	if state.OriginalQuery != "what about attention?" {
		t.Errorf("original query must not change: %q", state.OriginalQuery)
	}
	if !hasReasoningStep(state, "rewrote query") {
		t.Errorf("rewrite not recorded: %v", state.ReasoningSteps)
	}
	collect(sink)
}

func TestRewriter_LLMFailureLeavesQuery(t *testing.T) {
	f := newFakeProvider()
	f.structuredErr["rewriter"] = errors.New("timeout")

	state := agent.NewState("original", nil, "", testConfig())
	sink := newSink()

	if err := Rewriter(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("rewriter fallback should not error: %v", err)
	}
	if state.CurrentQuery != "original" {
		t.Errorf("query changed on failed rewrite: %q", state.CurrentQuery)
	}
	collect(sink)
}

func TestRewriter_EmptyReformulationIgnored(t *testing.T) {
	f := newFakeProvider()
	f.structured["rewriter"] = []string{`{"rewritten_query": "", "reason": "nothing better"}`}

	state := agent.NewState("original", nil, "", testConfig())
	sink := newSink()

	if err := Rewriter(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("rewriter failed: %v", err)
	}
	if state.CurrentQuery != "original" {
		t.Errorf("empty reformulation should be ignored: %q", state.CurrentQuery)
	}
	collect(sink)
}

// --- Generator ---

func TestGenerator_StreamsAnswerWithSourcesFirst(t *testing.T) {
	f := newFakeProvider()
	state := gradedState(2)
	sink := newSink()

	if err := Generator(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("generator failed: %v", err)
	}

	if state.FinalAnswer != "Attention weighs tokens." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
	if len(state.Sources) == 0 {
		t.Error("sources not set")
	}

	events := collect(sink)
	sourcesAt, firstContentAt := -1, -1
	for i, e := range events {
		if e.Type == agent.EventSources && sourcesAt == -1 {
			sourcesAt = i
		}
		if e.Type == agent.EventContent && firstContentAt == -1 {
			firstContentAt = i
		}
	}
	if sourcesAt == -1 || firstContentAt == -1 {
		t.Fatalf("missing sources or content events: %+v", events)
	}
	if sourcesAt > firstContentAt {
		t.Errorf("Sources must precede the first Content: sources=%d content=%d", sourcesAt, firstContentAt)
	}
}

func TestGenerator_UsesConfiguredTemperature(t *testing.T) {
	f := newFakeProvider()
	state := gradedState(1)
	sink := newSink()

	if err := Generator(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("generator failed: %v", err)
	}
	if f.lastStreamReq.Temperature != state.Config.Temperature {
		t.Errorf("temperature = %v, want %v", f.lastStreamReq.Temperature, state.Config.Temperature)
	}
	collect(sink)
}

func TestGenerator_CapsEvidenceAtTopK(t *testing.T) {
	f := newFakeProvider()
	state := gradedState(5)
	state.Config.TopK = 2
	sink := newSink()

	if err := Generator(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("generator failed: %v", err)
	}

	user := f.lastStreamReq.Messages[1].Content
	if strings.Contains(user, "c2") || strings.Count(user, "[1706.03762]") > 2 {
		t.Errorf("more than top_k chunks reached the prompt:\n%s", user)
	}
	collect(sink)
}

func TestGenerator_LimitedSourcesNote(t *testing.T) {
	f := newFakeProvider()
	state := gradedState(1)
	state.Config.TopK = 3
	state.RetrievalAttempts = state.Config.MaxRetrievalAttempts
	sink := newSink()

	if err := Generator(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("generator failed: %v", err)
	}
	if !strings.Contains(f.lastStreamReq.Messages[1].Content, "limited sources") &&
		!strings.Contains(f.lastStreamReq.Messages[1].Content, "Limited sources") {
		t.Errorf("limited-sources note missing:\n%s", f.lastStreamReq.Messages[1].Content)
	}
	collect(sink)
}

func TestGenerator_NoLimitedNoteWithBudgetLeft(t *testing.T) {
	f := newFakeProvider()
	state := gradedState(1)
	state.Config.TopK = 3
	state.RetrievalAttempts = 1
	sink := newSink()

	if err := Generator(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("generator failed: %v", err)
	}
	if strings.Contains(strings.ToLower(f.lastStreamReq.Messages[1].Content), "limited sources") {
		t.Errorf("note should only appear after exhausting retrieval attempts:\n%s", f.lastStreamReq.Messages[1].Content)
	}
	collect(sink)
}

func TestGenerator_StreamFailureIsFatal(t *testing.T) {
	f := newFakeProvider()
	f.streamErr = errors.New("connection reset")

	state := gradedState(1)
	sink := newSink()

	err := Generator(context.Background(), state, newDeps(f), sink)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if state.FinalAnswer != "" {
		t.Errorf("no partial answer must be finalized: %q", state.FinalAnswer)
	}

	events := collect(sink)
	sawError := false
	for _, e := range events {
		if e.Type == agent.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("Error event not emitted before failing: %+v", events)
	}
}

// --- Out of scope ---

func TestOutOfScope_StreamsWithoutSources(t *testing.T) {
	f := newFakeProvider()
	f.tokens = []string{"I can", " only discuss", " papers."}

	state := agent.NewState("best pizza?", nil, "", testConfig())
	state.GuardrailResult = &agent.GuardrailResult{Score: 10, Reasoning: "not research", InScope: false}
	sink := newSink()

	if err := OutOfScope(context.Background(), state, newDeps(f), sink); err != nil {
		t.Fatalf("out-of-scope failed: %v", err)
	}
	if state.FinalAnswer != "I can only discuss papers." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
	if state.Sources != nil {
		t.Errorf("out-of-scope must not carry sources: %+v", state.Sources)
	}
	if f.lastStreamReq.Temperature != state.Config.OutOfScopeTemperature {
		t.Errorf("temperature = %v, want %v", f.lastStreamReq.Temperature, state.Config.OutOfScopeTemperature)
	}

	for _, e := range collect(sink) {
		if e.Type == agent.EventSources {
			t.Errorf("out-of-scope emitted a sources event: %+v", e)
		}
	}
}

// --- buildSources ---

func TestBuildSources_DedupsPerPaper(t *testing.T) {
	graded := true
	notGraded := false
	chunks := []agent.RelevantChunk{
		{ArxivID: "1706.03762", ChunkIndex: 0, Title: "Attention", Score: 0.9, WasGradedRelevant: &graded},
		{ArxivID: "1706.03762", ChunkIndex: 1, Title: "Attention", Score: 0.95, WasGradedRelevant: &notGraded},
		{ArxivID: "1810.04805", ChunkIndex: 0, Title: "BERT", Score: 0.5},
	}

	sources := buildSources(chunks, fakePapers{})
	if len(sources) != 2 {
		t.Fatalf("expected one source per paper, got %+v", sources)
	}

	var attention *agent.Source
	for i := range sources {
		if sources[i].ArxivID == "1706.03762" {
			attention = &sources[i]
		}
	}
	if attention == nil {
		t.Fatal("1706.03762 missing from sources")
	}
	if attention.RelevanceScore != 0.95 {
		t.Errorf("relevance score = %v, want max chunk score 0.95", attention.RelevanceScore)
	}
	if attention.WasGradedRelevant == nil || !*attention.WasGradedRelevant {
		t.Errorf("any graded-relevant chunk should mark the paper relevant: %+v", attention)
	}
	if len(attention.Authors) == 0 || attention.PDFURL == "" {
		t.Errorf("paper metadata not enriched: %+v", attention)
	}
}

func TestBuildSources_OrderedByScore(t *testing.T) {
	chunks := []agent.RelevantChunk{
		{ArxivID: "a", ChunkIndex: 0, Score: 0.3},
		{ArxivID: "b", ChunkIndex: 0, Score: 0.9},
	}
	sources := buildSources(chunks, fakePapers{})
	if len(sources) != 2 || sources[0].ArxivID != "b" {
		t.Errorf("sources not ordered by relevance: %+v", sources)
	}
}
