// Package workflow implements the human-in-the-loop investigation state
// machine. An Investigation alternates between autonomous agent turns and
// suspension while waiting for an operator response, driven entirely by
// signals and queries delivered by the hosting worker.
package workflow

import (
	"context"

	"github.com/oncallsh/sleuth/llm"
)

// Machine is the contract between a workflow state machine and the host
// that runs it. Signal and query handlers mutate or read in-memory state;
// Run is the single long-lived loop, invoked once per execution.
type Machine interface {
	HandleSignal(name string, payload []byte) error
	HandleQuery(name string) (any, error)
	Run(ctx context.Context) (string, error)
}

// AgentRunner produces one agent turn from the conversation so far. The
// implementation owns the per-call timeout.
type AgentRunner interface {
	RunTurn(ctx context.Context, transcript []llm.Message) (string, error)
}

// ToolCatalog reports which capability providers are available to the
// agent for this execution.
type ToolCatalog interface {
	Discover(ctx context.Context) ([]string, error)
}

// Signal and query names understood by an Investigation.
const (
	SignalStartExecution = "start_execution"
	SignalProvideAction  = "provide_action"
	SignalEndWorkflow    = "end_workflow"
	QueryGetStatus       = "get_status"
)

// WorkflowType identifies the investigation machine when registering with
// a host worker.
const WorkflowType = "investigation"
