// Package commands implements the slash commands of the interactive
// session. Each command mutates session state or produces a Result intent
// that the orchestrator interprets; commands never drive the poll loop
// themselves.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oncallsh/sleuth/alertsource"
	"github.com/oncallsh/sleuth/config"
	"github.com/oncallsh/sleuth/console"
	"github.com/oncallsh/sleuth/host"
	"github.com/oncallsh/sleuth/session"
	"github.com/oncallsh/sleuth/workflow"
)

// HostClient is the slice of the workflow host surface commands use.
type HostClient interface {
	StartWorkflow(ctx context.Context, wfType string, input any, id, queue string, memo map[string]string) (string, error)
	Signal(ctx context.Context, workflowID, name string, payload any) error
	GetStatus(ctx context.Context, workflowID string) (workflow.Status, error)
	ListWorkflows(ctx context.Context, queue, statusFilter string) ([]host.Record, error)
}

// AlertFetcher retrieves alerts from the configured alert source.
type AlertFetcher interface {
	Fetch(ctx context.Context) ([]alertsource.Alert, error)
}

// RunbookFetcher resolves a runbook_url annotation to markdown. May be
// nil when runbook enrichment is disabled.
type RunbookFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Env carries the collaborators a command executes against. Constructed
// once at session start and passed explicitly; commands never reach for
// globals.
type Env struct {
	Config   *config.Config
	Session  *session.State
	Store    *session.Store
	Host     HostClient
	Alerts   AlertFetcher
	Runbooks RunbookFetcher
	Console  *console.Console
	Logger   *slog.Logger
}

// Persist writes the session state to disk. Every mutating command calls
// it before returning.
func (e *Env) Persist() error {
	if err := e.Store.Save(e.Session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// NewWorkflow describes a derived workflow a command wants created. The
// orchestrator starts it, inserts the metadata, and begins polling it.
type NewWorkflow struct {
	Kind              session.WorkflowKind
	Prompt            string
	AlertFingerprint  string
	SourceWorkflowIDs []string
	EnrichmentContext string
}

// Result carries the orthogonal intents a command can produce. The zero
// value means "continue the session loop in place".
type Result struct {
	// Exit ends the interactive session.
	Exit bool

	// SwitchWorkflow makes the named workflow current and polls it next.
	SwitchWorkflow string

	// SwitchedContext reports that the current context changed.
	SwitchedContext bool

	// New asks the orchestrator to create a derived workflow.
	New *NewWorkflow

	// Complete asks the orchestrator to end the current workflow
	// gracefully.
	Complete bool
}

// Command is one slash command.
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args []string, env *Env) (Result, error)
}
