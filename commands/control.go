package commands

import (
	"context"
	"fmt"

	"github.com/oncallsh/sleuth/alertsource"
	"github.com/oncallsh/sleuth/session"
)

// SwitchCommand changes which workflow the session polls. Workflow ids
// unknown to the context are accepted if the host registry knows them.
type SwitchCommand struct{}

func (c *SwitchCommand) Name() string        { return "switch" }
func (c *SwitchCommand) Description() string { return "Switch current workflow: /switch <workflow-id>" }

func (c *SwitchCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /switch <workflow-id>")
	}
	id := args[0]

	if err := env.Session.SwitchWorkflow(id, false); err != nil {
		// Not tracked locally: accept it if the host registry lists it.
		records, listErr := env.Host.ListWorkflows(ctx, env.Config.Host.Queue, "")
		if listErr != nil {
			return Result{}, fmt.Errorf("%w (and host listing failed: %v)", err, listErr)
		}
		found := false
		for _, rec := range records {
			if rec.WorkflowID == id {
				found = true
				break
			}
		}
		if !found {
			return Result{}, fmt.Errorf("workflow %s is neither tracked locally nor known to the host", id)
		}
		if err := env.Session.SwitchWorkflow(id, true); err != nil {
			return Result{}, err
		}
	}

	if err := env.Persist(); err != nil {
		return Result{}, err
	}
	env.Console.Success("Switched to workflow " + id)
	return Result{SwitchWorkflow: id}, nil
}

// SwitchContextCommand changes the current context by id, name, or id
// substring.
type SwitchContextCommand struct{}

func (c *SwitchContextCommand) Name() string { return "switch-context" }
func (c *SwitchContextCommand) Description() string {
	return "Switch current context: /switch-context <id|name>"
}

func (c *SwitchContextCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /switch-context <id|name>")
	}

	sc, err := env.Session.SwitchContext(args[0])
	if err != nil {
		return Result{}, err
	}
	if err := env.Persist(); err != nil {
		return Result{}, err
	}
	env.Console.Success(fmt.Sprintf("Switched to context %s (%s)", sc.DisplayName(), sc.ID))
	return Result{SwitchedContext: true}, nil
}

// ImportAlertsCommand pulls alerts from the alert source, applies the
// configured filter, and stores them in the current context.
type ImportAlertsCommand struct{}

func (c *ImportAlertsCommand) Name() string { return "import-alerts" }
func (c *ImportAlertsCommand) Description() string {
	return "Import filtered alerts from the alert source"
}

func (c *ImportAlertsCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	alerts, err := env.Alerts.Fetch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch alerts: %w", err)
	}

	filter := alertsource.Filter{
		Whitelist: args, // optional per-invocation whitelist
		Blacklist: env.Config.Alerts.Blacklist,
		Status:    env.Config.Alerts.Status,
	}
	kept := filter.Apply(alerts)

	local := env.Session.CurrentContext().Local
	for _, a := range kept {
		data := map[string]any{
			"alertname": a.Name(),
			"severity":  a.Severity(),
			"state":     a.Status.State,
			"starts_at": a.StartsAt,
		}
		if s := a.Summary(); s != "" {
			data["summary"] = s
		}
		if u := a.RunbookURL(); u != "" {
			data["runbook_url"] = u
		}
		for k, v := range a.Labels {
			if k != "alertname" && k != "severity" {
				data[k] = v
			}
		}
		local.AddItem(session.ContextItem{
			ID:     a.Fingerprint,
			Type:   session.ItemTypeAlert,
			Data:   data,
			Source: env.Config.Alerts.URL,
		})
	}

	if err := env.Persist(); err != nil {
		return Result{}, err
	}
	env.Console.Success(fmt.Sprintf("Imported %d alerts (%d fetched, %d filtered out)",
		len(kept), len(alerts), len(alerts)-len(kept)))
	return Result{}, nil
}

// RefreshCommand re-queries the host for every running workflow in the
// current context and folds completed results into the local records.
type RefreshCommand struct{}

func (c *RefreshCommand) Name() string        { return "refresh" }
func (c *RefreshCommand) Description() string { return "Refresh workflow statuses from the host" }

func (c *RefreshCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	local := env.Session.CurrentContext().Local

	var updated int
	for _, m := range local.AllWorkflows() {
		if m.Completed() {
			continue
		}
		status, err := env.Host.GetStatus(ctx, m.WorkflowID)
		if err != nil {
			env.Console.Warning(fmt.Sprintf("Query %s failed: %v", m.WorkflowID, err))
			continue
		}
		if status.State.Terminal() {
			result := status.FinalReport
			if result == "" && status.ErrorMessage != "" {
				result = "failed: " + status.ErrorMessage
			}
			local.UpdateWorkflow(m.WorkflowID, session.StatusCompleted, result)
			updated++
		}
	}

	if updated > 0 {
		if err := env.Persist(); err != nil {
			return Result{}, err
		}
	}
	env.Console.Info(fmt.Sprintf("Refreshed: %d workflow(s) newly completed", updated))
	return Result{}, nil
}

// CompleteCommand asks the orchestrator to end the current workflow
// gracefully and record its result.
type CompleteCommand struct{}

func (c *CompleteCommand) Name() string        { return "complete" }
func (c *CompleteCommand) Description() string { return "End the current workflow and record its result" }

func (c *CompleteCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if env.Session.CurrentWorkflowID == "" {
		return Result{}, fmt.Errorf("no current workflow to complete")
	}
	return Result{Complete: true}, nil
}

// EndCommand exits the interactive session. Remote workflows keep
// running and can be resumed later.
type EndCommand struct{}

func (c *EndCommand) Name() string        { return "end" }
func (c *EndCommand) Description() string { return "Exit the session (workflows keep running)" }

func (c *EndCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	return Result{Exit: true}, nil
}
