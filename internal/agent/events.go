package agent

// EventType tags the variant carried by an Event, mirroring the SSE event
// types the streaming transport encodes.
type EventType string

const (
	EventStatus   EventType = "status"
	EventContent  EventType = "content"
	EventSources  EventType = "sources"
	EventMetadata EventType = "metadata"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

type Step string

const (
	StepGuardrail   Step = "guardrail"
	StepRouting     Step = "routing"
	StepExecuting   Step = "executing"
	StepGrading     Step = "grading"
	StepGeneration  Step = "generation"
	StepOutOfScope  Step = "out_of_scope"
)

type Event struct {
	Type EventType

	// Status
	Step    Step
	Message string
	Details map[string]interface{}

	// Content
	Token string

	// Sources
	Sources []Source

	// Metadata
	Metadata *Metadata

	// Error
	Error string
	Code  string
}

type Metadata struct {
	SessionID         string   `json:"session_id,omitempty"`
	TurnNumber        int      `json:"turn_number"`
	ExecutionTimeMS   int64    `json:"execution_time_ms"`
	RetrievalAttempts int      `json:"retrieval_attempts"`
	RewrittenQuery    string   `json:"rewritten_query,omitempty"`
	GuardrailScore    *int     `json:"guardrail_score,omitempty"`
	Provider          string   `json:"provider,omitempty"`
	Model             string   `json:"model,omitempty"`
	ReasoningSteps    []string `json:"reasoning_steps,omitempty"`
	Error             string   `json:"error,omitempty"`
}

func StatusEvent(step Step, message string, details map[string]interface{}) Event {
	return Event{Type: EventStatus, Step: step, Message: message, Details: details}
}

func ContentEvent(token string) Event {
	return Event{Type: EventContent, Token: token}
}

func SourcesEvent(sources []Source) Event {
	return Event{Type: EventSources, Sources: sources}
}

func MetadataEvent(m Metadata) Event {
	return Event{Type: EventMetadata, Metadata: &m}
}

func ErrorEvent(err string, code string) Event {
	return Event{Type: EventError, Error: err, Code: code}
}

func DoneEvent() Event {
	return Event{Type: EventDone}
}
