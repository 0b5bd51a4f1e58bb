package host

import (
	"encoding/json"
	"time"
)

// StartRequest is the JetStream payload that asks a worker to create a
// workflow instance.
type StartRequest struct {
	WorkflowID string            `json:"workflow_id"`
	Type       string            `json:"type"`
	Input      json.RawMessage   `json:"input,omitempty"`
	Memo       map[string]string `json:"memo,omitempty"`
}

// SignalEnvelope carries one signal to a workflow instance. The target id
// is encoded in the subject; the envelope names the signal.
type SignalEnvelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QueryResponse is the reply to a query request.
type QueryResponse struct {
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Execution lifecycle values recorded in the registry.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Record is the registry entry for one workflow execution, stored in the
// namespace's KV bucket.
type Record struct {
	WorkflowID  string            `json:"workflow_id"`
	Type        string            `json:"type"`
	Queue       string            `json:"queue"`
	Status      string            `json:"status"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Memo        map[string]string `json:"memo,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
