package workflow

// State is the investigation lifecycle state.
type State string

const (
	StatePending       State = "pending"
	StateExecuting     State = "executing"
	StateAwaitingInput State = "awaiting_input"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the snapshot returned by the get_status query. The question,
// tools and findings fields are populated only while awaiting input.
type Status struct {
	State           State    `json:"state"`
	CurrentQuestion string   `json:"current_question,omitempty"`
	SuggestedTools  []string `json:"suggested_tools,omitempty"`
	Findings        string   `json:"findings,omitempty"`
	FinalReport     string   `json:"final_report,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

// ActionKind tags an operator response so the agent can tell an answer
// from a tool result or an approval.
type ActionKind string

const (
	ActionText       ActionKind = "text"
	ActionToolResult ActionKind = "tool_result"
	ActionApproval   ActionKind = "approval"
)

// Action is an operator response delivered via the provide_action signal.
type Action struct {
	Kind     ActionKind        `json:"kind"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StartInput is the payload of the start_execution signal.
type StartInput struct {
	UserPrompt string `json:"user_prompt"`
}
