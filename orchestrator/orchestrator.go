// Package orchestrator drives the interactive session: it polls the
// current investigation, prompts the operator when the agent needs input,
// and routes slash commands through the command registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oncallsh/sleuth/commands"
	"github.com/oncallsh/sleuth/host"
	"github.com/oncallsh/sleuth/session"
	"github.com/oncallsh/sleuth/workflow"
)

// Orchestrator runs one session loop. Single-threaded: it drives at most
// one workflow at a time, and switching only changes which id is polled.
type Orchestrator struct {
	env          *commands.Env
	registry     *commands.Registry
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// New creates an Orchestrator. maxPolls bounds consecutive polls without
// operator interaction before the workflow is force-ended.
func New(env *commands.Env, registry *commands.Registry, pollInterval time.Duration, maxPolls int, logger *slog.Logger) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		env:          env,
		registry:     registry,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger,
	}
}

// Run executes the session until the operator exits or input ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	env := o.env
	env.Console.Header("sleuth interactive session")
	env.Console.Dim(fmt.Sprintf("context: %s | type /help for commands", env.Session.CurrentContext().DisplayName()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if env.Session.CurrentWorkflowID != "" {
			exit, err := o.driveWorkflow(ctx, env.Session.CurrentWorkflowID)
			if err != nil {
				env.Console.Error(err.Error())
			}
			if exit {
				return nil
			}
			continue
		}

		line, err := env.Console.ReadLine("sleuth> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		res, err := o.dispatch(ctx, line)
		if err != nil {
			env.Console.Error(err.Error())
			continue
		}
		exit, err := o.applyResult(ctx, res)
		if err != nil {
			env.Console.Error(err.Error())
			continue
		}
		if exit {
			return nil
		}
	}
}

// dispatch routes one line of input. Slash-prefixed input goes to a
// command; anything else becomes the prompt for a fresh investigation
// when no workflow is current.
func (o *Orchestrator) dispatch(ctx context.Context, line string) (commands.Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return commands.Result{}, nil
	}

	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(line)
		name := strings.TrimPrefix(fields[0], "/")
		cmd, ok := o.registry.Get(name)
		if !ok {
			// Unrecognized commands are reported, never fatal. A unique
			// prefix completes to its command.
			switch matches := o.registry.Complete(name); len(matches) {
			case 1:
				cmd = matches[0]
			case 0:
				o.env.Console.Warning(fmt.Sprintf("Unknown command /%s. Type /help for the list.", name))
				return commands.Result{}, nil
			default:
				names := make([]string, len(matches))
				for i, m := range matches {
					names[i] = "/" + m.Name()
				}
				o.env.Console.Warning(fmt.Sprintf("Ambiguous command /%s: %s", name, strings.Join(names, ", ")))
				return commands.Result{}, nil
			}
		}
		return cmd.Execute(ctx, fields[1:], o.env)
	}

	return commands.Result{New: &commands.NewWorkflow{
		Kind:   session.KindRCA,
		Prompt: line,
	}}, nil
}

// applyResult interprets a command result at the top level, outside a
// workflow poll loop.
func (o *Orchestrator) applyResult(ctx context.Context, res commands.Result) (exit bool, err error) {
	if res.Exit {
		o.env.Console.Dim("Ending session. Remote workflows keep running.")
		return true, nil
	}
	if res.New != nil {
		if err := o.createWorkflow(ctx, res.New); err != nil {
			return false, err
		}
	}
	if res.Complete {
		if err := o.completeCurrent(ctx); err != nil {
			return false, err
		}
	}
	// SwitchWorkflow and SwitchedContext already mutated the session;
	// the main loop picks the new target up on its next pass.
	return false, nil
}

// createWorkflow starts a derived investigation on the host and tracks it
// locally, making it current. The metadata insert happens before the
// first poll.
func (o *Orchestrator) createWorkflow(ctx context.Context, nw *commands.NewWorkflow) error {
	env := o.env

	id, err := env.Host.StartWorkflow(ctx, workflow.WorkflowType, nil, "", env.Config.Host.Queue, map[string]string{
		"kind":        string(nw.Kind),
		"fingerprint": nw.AlertFingerprint,
	})
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := env.Host.Signal(ctx, id, workflow.SignalStartExecution, workflow.StartInput{UserPrompt: nw.Prompt}); err != nil {
		return fmt.Errorf("signal start: %w", err)
	}

	meta := &session.WorkflowMetadata{
		WorkflowID:        id,
		Kind:              nw.Kind,
		Status:            session.StatusRunning,
		AlertFingerprint:  nw.AlertFingerprint,
		EnrichmentContext: nw.EnrichmentContext,
		SourceWorkflowIDs: nw.SourceWorkflowIDs,
		CreatedAt:         time.Now().UTC(),
	}
	if err := env.Session.AddWorkflow(meta); err != nil {
		return err
	}
	if err := env.Persist(); err != nil {
		return err
	}

	o.logger.Debug("Started workflow",
		"workflow_id", id,
		"kind", nw.Kind,
		"fingerprint", nw.AlertFingerprint)
	env.Console.Success(fmt.Sprintf("Started %s workflow %s", nw.Kind, id))
	return nil
}

// driveWorkflow polls the current workflow until it suspends for input,
// finishes, or the poll budget runs out. Failed queries count against the
// same budget so an unreachable host cannot keep the loop spinning.
// Returns exit=true when the operator ends the session from inside the
// loop.
func (o *Orchestrator) driveWorkflow(ctx context.Context, id string) (exit bool, err error) {
	env := o.env
	polls := 0

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		status, err := env.Host.GetStatus(ctx, id)
		if errors.Is(err, host.ErrNotFound) {
			o.parkCurrent(id)
			return false, fmt.Errorf("workflow %s is not loaded on any worker", id)
		}
		if err != nil {
			polls++
			if polls >= o.maxPolls {
				env.Console.Error(fmt.Sprintf("Workflow %s unreachable after %d attempts: %v", id, polls, err))
				o.parkCurrent(id)
				return false, nil
			}
			env.Console.Warning(fmt.Sprintf("Query workflow %s failed (attempt %d/%d): %v", id, polls, o.maxPolls, err))
			if err := o.wait(ctx); err != nil {
				return false, err
			}
			continue
		}

		switch status.State {
		case workflow.StatePending, workflow.StateExecuting:
			polls++
			if polls >= o.maxPolls {
				env.Console.Warning(fmt.Sprintf("Poll budget exhausted after %d polls; ending workflow %s", polls, id))
				if err := env.Host.Signal(ctx, id, workflow.SignalEndWorkflow, nil); err != nil {
					return false, fmt.Errorf("force-end workflow: %w", err)
				}
				o.finishLocal(id, "force-ended after poll budget exhausted")
				return false, nil
			}
			if err := o.wait(ctx); err != nil {
				return false, err
			}

		case workflow.StateAwaitingInput:
			polls = 0
			exit, handled, err := o.promptOperator(ctx, id, status)
			if err != nil {
				return false, err
			}
			if exit {
				return true, nil
			}
			if !handled {
				// Command switched workflow or context; re-enter the
				// main loop to pick up the new target.
				return false, nil
			}

		case workflow.StateCompleted:
			env.Console.Newline()
			env.Console.Panel("Final report", status.FinalReport)
			o.finishLocal(id, status.FinalReport)
			return false, nil

		case workflow.StateFailed:
			env.Console.Error("Investigation failed: " + status.ErrorMessage)
			o.finishLocal(id, "failed: "+status.ErrorMessage)
			return false, nil

		default:
			return false, fmt.Errorf("unknown workflow state %q", status.State)
		}
	}
}

// promptOperator renders the agent's question and forwards the reply.
// handled=false means a command redirected the session elsewhere.
func (o *Orchestrator) promptOperator(ctx context.Context, id string, status workflow.Status) (exit, handled bool, err error) {
	env := o.env

	env.Console.Newline()
	if status.Findings != "" {
		env.Console.Panel("Findings", status.Findings)
	}
	env.Console.Message(status.CurrentQuestion)
	if len(status.SuggestedTools) > 0 {
		env.Console.Dim("suggested tools: " + strings.Join(status.SuggestedTools, ", "))
	}

	line, err := env.Console.ReadLine(fmt.Sprintf("[%s]> ", id))
	if errors.Is(err, io.EOF) {
		return true, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read input: %w", err)
	}

	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		// Plain input is always forwarded as a text action.
		action := workflow.Action{Kind: workflow.ActionText, Content: line}
		if err := env.Host.Signal(ctx, id, workflow.SignalProvideAction, action); err != nil {
			return false, false, fmt.Errorf("send action: %w", err)
		}
		return false, true, nil
	}

	res, err := o.dispatch(ctx, line)
	if err != nil {
		env.Console.Error(err.Error())
		return false, true, nil
	}
	if res.Exit {
		env.Console.Dim("Ending session. Remote workflows keep running.")
		return true, false, nil
	}
	if res.Complete {
		if err := o.completeCurrent(ctx); err != nil {
			return false, true, err
		}
		return false, true, nil
	}
	if res.New != nil {
		if err := o.createWorkflow(ctx, res.New); err != nil {
			env.Console.Error(err.Error())
			return false, true, nil
		}
		return false, false, nil
	}
	if res.SwitchWorkflow != "" || res.SwitchedContext {
		return false, false, nil
	}
	return false, true, nil
}

// wait sleeps one poll interval unless the context ends first.
func (o *Orchestrator) wait(ctx context.Context) error {
	select {
	case <-time.After(o.pollInterval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parkCurrent clears the current workflow without touching its local
// record, handing the prompt back to the operator. The workflow may still
// be running remotely; /switch resumes it.
func (o *Orchestrator) parkCurrent(id string) {
	env := o.env
	env.Session.CurrentWorkflowID = ""
	if err := env.Persist(); err != nil {
		env.Console.Warning("Persist session: " + err.Error())
	}
	env.Console.Dim(fmt.Sprintf("Stopped polling %s; use /switch %s to resume once the host is reachable.", id, id))
}

// completeCurrent ends the current workflow gracefully.
func (o *Orchestrator) completeCurrent(ctx context.Context) error {
	id := o.env.Session.CurrentWorkflowID
	if id == "" {
		return fmt.Errorf("no current workflow")
	}
	if err := o.env.Host.Signal(ctx, id, workflow.SignalEndWorkflow, nil); err != nil {
		return fmt.Errorf("end workflow: %w", err)
	}
	o.env.Console.Info("Requested completion of " + id)
	return nil
}

// finishLocal folds a terminal result into the local record and clears
// the current workflow.
func (o *Orchestrator) finishLocal(id, result string) {
	env := o.env
	env.Session.CurrentContext().Local.UpdateWorkflow(id, session.StatusCompleted, result)
	env.Session.CurrentWorkflowID = ""
	if err := env.Persist(); err != nil {
		env.Console.Warning("Persist session: " + err.Error())
	}
}
