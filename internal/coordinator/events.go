// Package coordinator implements the Coordinator (C12): the bounded
// classify -> retrieve -> grade -> compose -> verify loop and the ordered
// pipeline event stream it emits to the caller.
package coordinator

import "time"

// EventType discriminates the pipeline event union. The SSE adapter frames
// each event as `event: <type>` with the JSON body as data.
type EventType string

const (
	EventAgentLog          EventType = "agent_log"
	EventRewrite           EventType = "rewrite"
	EventTokens            EventType = "tokens"
	EventCitations         EventType = "citations"
	EventWebSearchMetadata EventType = "web_search_metadata"
	EventVerification      EventType = "verification"
	EventFinal             EventType = "final"
	EventPing              EventType = "ping"
)

// Role names the pipeline stage an agent_log line came from.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleResearcher Role = "researcher"
	RoleCritic     Role = "critic"
	RoleWriter     Role = "writer"
)

// Citation points a reader at one approved evidence chunk.
type Citation struct {
	DocumentID  string `json:"document_id"`
	Source      string `json:"source,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	IsWebSource bool   `json:"is_web_source,omitempty"`
}

// WebSearchMetadata summarizes a completed web search for the caller.
type WebSearchMetadata struct {
	Query       string   `json:"query"`
	Sources     []string `json:"sources"`
	ResultCount int      `json:"result_count"`
}

// Verification reports the grounding check on a composed answer.
type Verification struct {
	IsValid      bool    `json:"is_valid"`
	Confidence   float64 `json:"confidence"`
	GradeSummary string  `json:"grade_summary,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
}

// Event is one element of the pipeline stream. Type is the discriminant;
// only the fields relevant to that type are populated. `final` is terminal
// and emitted exactly once per invocation.
type Event struct {
	Type EventType `json:"type"`
	TS   int64     `json:"ts"` // ms epoch

	// agent_log
	Role    Role   `json:"role,omitempty"`
	Message string `json:"message,omitempty"`

	// rewrite
	Original  string `json:"original,omitempty"`
	Rewritten string `json:"rewritten,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// tokens and final
	Text string `json:"text,omitempty"`

	// citations and final
	Citations []Citation `json:"citations,omitempty"`

	// web_search_metadata
	WebSearch *WebSearchMetadata `json:"web_search,omitempty"`

	// verification
	Verification *Verification `json:"verification,omitempty"`

	// final
	Verified bool `json:"verified,omitempty"`
}

// Sink consumes pipeline events synchronously. Returning false signals the
// caller has disconnected; the coordinator stops emitting.
type Sink func(Event) bool

// emitter serializes event emission for one invocation: it stamps
// timestamps, tracks sink closure, and guarantees at most one final.
type emitter struct {
	sink      Sink
	now       func() time.Time
	closed    bool
	finalSent bool
}

func newEmitter(sink Sink, now func() time.Time) *emitter {
	if now == nil {
		now = time.Now
	}
	return &emitter{sink: sink, now: now}
}

func (e *emitter) emit(ev Event) {
	if e.closed || e.finalSent {
		return
	}
	ev.TS = e.now().UnixMilli()
	if ev.Type == EventFinal {
		e.finalSent = true
	}
	if !e.sink(ev) {
		e.closed = true
	}
}

func (e *emitter) agentLog(role Role, message string) {
	e.emit(Event{Type: EventAgentLog, Role: role, Message: message})
}

func (e *emitter) rewrite(original, rewritten, reason string) {
	e.emit(Event{Type: EventRewrite, Original: original, Rewritten: rewritten, Reason: reason})
}

// streamTokens splits text into at-most-60-character token events, in order.
func (e *emitter) streamTokens(text string) {
	runes := []rune(text)
	for i := 0; i < len(runes); i += 60 {
		end := i + 60
		if end > len(runes) {
			end = len(runes)
		}
		e.emit(Event{Type: EventTokens, Text: string(runes[i:end])})
	}
}

func (e *emitter) citations(cits []Citation) {
	e.emit(Event{Type: EventCitations, Citations: cits})
}

func (e *emitter) webMetadata(md WebSearchMetadata) {
	e.emit(Event{Type: EventWebSearchMetadata, WebSearch: &md})
}

func (e *emitter) verification(v Verification) {
	e.emit(Event{Type: EventVerification, Verification: &v})
}

func (e *emitter) final(text string, cits []Citation, verified bool) Event {
	ev := Event{Type: EventFinal, Text: text, Citations: cits, Verified: verified}
	e.emit(ev)
	return ev
}
