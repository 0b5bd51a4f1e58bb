package commands

import (
	"context"
	"fmt"
	"strings"
)

// HelpCommand lists the available commands.
type HelpCommand struct {
	registry *Registry
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "List available commands" }

func (c *HelpCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	env.Console.Header("Commands")
	for _, cmd := range c.registry.All() {
		env.Console.Message(fmt.Sprintf("  /%-16s %s", cmd.Name(), cmd.Description()))
	}
	env.Console.Dim("Anything else you type is sent to the current investigation as a message.")
	return Result{}, nil
}

// AlertsCommand shows the alerts imported into the current context and
// the investigations referencing them.
type AlertsCommand struct{}

func (c *AlertsCommand) Name() string        { return "alerts" }
func (c *AlertsCommand) Description() string { return "Show alerts in the current context" }

func (c *AlertsCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	local := env.Session.CurrentContext().Local
	alerts := local.Alerts()
	if len(alerts) == 0 {
		env.Console.Dim("No alerts imported. Use /import-alerts to pull from the alert source.")
		return Result{}, nil
	}

	env.Console.Header(fmt.Sprintf("Alerts (%d)", len(alerts)))
	for _, item := range alerts {
		name := "unknown"
		if n, ok := item.Data["alertname"].(string); ok && n != "" {
			name = n
		}
		var refs []string
		for _, m := range local.AllWorkflows() {
			if m.AlertFingerprint == item.ID {
				refs = append(refs, fmt.Sprintf("%s(%s)", m.Kind, m.Status))
			}
		}
		line := fmt.Sprintf("  %s  %s", item.ID, name)
		if len(refs) > 0 {
			line += "  [" + strings.Join(refs, ", ") + "]"
		}
		env.Console.Message(line)
	}
	return Result{}, nil
}

// WorkflowsCommand lists tracked workflows; "remote" lists the host's
// registry for the configured queue instead.
type WorkflowsCommand struct{}

func (c *WorkflowsCommand) Name() string        { return "workflows" }
func (c *WorkflowsCommand) Description() string { return "List workflows (add 'remote' for the host registry)" }

func (c *WorkflowsCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if len(args) > 0 && args[0] == "remote" {
		return c.listRemote(ctx, env)
	}

	all := env.Session.CurrentContext().Local.AllWorkflows()
	if len(all) == 0 {
		env.Console.Dim("No workflows in this context yet. Use /new <fingerprint> to start one.")
		return Result{}, nil
	}

	env.Console.Header(fmt.Sprintf("Workflows (%d)", len(all)))
	for _, m := range all {
		marker := "  "
		if m.WorkflowID == env.Session.CurrentWorkflowID {
			marker = "* "
		}
		line := fmt.Sprintf("%s%s  %-22s %s", marker, m.WorkflowID, m.Kind, m.Status)
		if m.AlertFingerprint != "" {
			line += "  alert " + m.AlertFingerprint
		}
		env.Console.Message(line)
	}
	return Result{}, nil
}

func (c *WorkflowsCommand) listRemote(ctx context.Context, env *Env) (Result, error) {
	records, err := env.Host.ListWorkflows(ctx, env.Config.Host.Queue, "")
	if err != nil {
		return Result{}, fmt.Errorf("list remote workflows: %w", err)
	}
	if len(records) == 0 {
		env.Console.Dim("The host registry has no workflows for this queue.")
		return Result{}, nil
	}

	env.Console.Header(fmt.Sprintf("Remote workflows (%d)", len(records)))
	for _, rec := range records {
		env.Console.Message(fmt.Sprintf("  %s  %-14s %s  started %s",
			rec.WorkflowID, rec.Type, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05")))
	}
	return Result{}, nil
}

// ContextCommand shows the known contexts, or creates a named one.
type ContextCommand struct{}

func (c *ContextCommand) Name() string        { return "context" }
func (c *ContextCommand) Description() string { return "Show contexts, or create one: /context <name>" }

func (c *ContextCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if len(args) > 0 {
		name := strings.Join(args, " ")
		created := env.Session.CreateContext(name)
		if err := env.Persist(); err != nil {
			return Result{}, err
		}
		env.Console.Success(fmt.Sprintf("Created context %s (%s) and switched to it", created.DisplayName(), created.ID))
		return Result{SwitchedContext: true}, nil
	}

	current := env.Session.CurrentContext()
	env.Console.Header("Contexts")
	for _, sc := range env.Session.ListContexts() {
		marker := "  "
		if sc.ID == current.ID {
			marker = "* "
		}
		env.Console.Message(fmt.Sprintf("%s%s  %s  (%d alerts, %d workflows)",
			marker, sc.ID, sc.DisplayName(), len(sc.Local.Alerts()), len(sc.Local.AllWorkflows())))
	}
	return Result{}, nil
}
