package protocol

import "time"

// ToolCall is the envelope every transport hands to the orchestrator.
type ToolCall struct {
	Subsystem string         `json:"subsystem"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// ToolResponse carries either Result or Error, never both.
type ToolResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func OK(result any) ToolResponse {
	return ToolResponse{Result: result}
}

func Failed(err error) ToolResponse {
	return ToolResponse{Error: err.Error(), Code: CodeOf(err)}
}

// CallError is one isolated failure inside a batch or an assembled bundle.
type CallError struct {
	Index     int    `json:"index"`
	Subsystem string `json:"subsystem"`
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type BatchResult struct {
	Results    []any       `json:"results"`
	Errors     []CallError `json:"errors"`
	DurationMS int64       `json:"duration_ms"`
}

type Assembly struct {
	Kind   string         `json:"kind"`
	Data   map[string]any `json:"data"`
	Errors []CallError    `json:"errors,omitempty"`
}

// Status event kinds published to the injected observer.
const (
	StatusToolStarted   = "tool_started"
	StatusToolFinished  = "tool_finished"
	StatusToolFailed    = "tool_failed"
	StatusBatchFinished = "batch_finished"
)

type StatusEvent struct {
	Kind       string    `json:"kind"`
	Subsystem  string    `json:"subsystem,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// CALL (client -> server)
type CallMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Call            ToolCall `json:"call"`
}

// BATCH (client -> server)
type BatchMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	Calls           []ToolCall `json:"calls"`
}

// ASSEMBLE (client -> server)
type AssembleMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ReqID           string         `json:"req_id"`
	Kind            string         `json:"kind"`
	Params          map[string]any `json:"params,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Payload         any    `json:"payload"`
}

// STATUS (server -> client, broadcast)
type StatusMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Event           StatusEvent `json:"event"`
}
