package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/oncallsh/sleuth/session"
)

// NewCommand starts an investigation for one alert: a plain RCA, or an
// enrichment RCA seeded with the compaction summary.
type NewCommand struct{}

func (c *NewCommand) Name() string { return "new" }
func (c *NewCommand) Description() string {
	return "Start an RCA: /new <fingerprint|alertname> [enrich]"
}

func (c *NewCommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /new <fingerprint|alertname> [enrich]")
	}
	enrich := len(args) > 1 && args[1] == "enrich"

	local := env.Session.CurrentContext().Local
	item, err := resolveAlert(local, args[0])
	if err != nil {
		return Result{}, err
	}

	// The guard runs before any metadata insert or host call.
	var compactResult string
	if enrich {
		if err := local.CanEnrich(); err != nil {
			return Result{}, fmt.Errorf("cannot start enrichment RCA: %w", err)
		}
		compactResult = local.CompactRCA.Result
	}

	runbookMD := c.fetchRunbook(ctx, env, item)

	if enrich {
		return Result{New: &NewWorkflow{
			Kind:              session.KindEnrichmentRCA,
			Prompt:            buildEnrichmentPrompt(item, compactResult, runbookMD),
			AlertFingerprint:  item.ID,
			EnrichmentContext: compactResult,
		}}, nil
	}
	return Result{New: &NewWorkflow{
		Kind:             session.KindRCA,
		Prompt:           buildRCAPrompt(item, runbookMD),
		AlertFingerprint: item.ID,
	}}, nil
}

// resolveAlert finds an imported alert by fingerprint, fingerprint
// prefix, or alertname.
func resolveAlert(local *session.LocalContext, ref string) (session.ContextItem, error) {
	if item, ok := local.Item(ref); ok {
		return item, nil
	}
	for _, item := range local.Alerts() {
		if strings.HasPrefix(item.ID, ref) {
			return item, nil
		}
	}
	for _, item := range local.Alerts() {
		if name, ok := item.Data["alertname"].(string); ok && name == ref {
			return item, nil
		}
	}
	return session.ContextItem{}, fmt.Errorf("no imported alert matches %q; run /alerts to see what is available", ref)
}

func (c *NewCommand) fetchRunbook(ctx context.Context, env *Env, item session.ContextItem) string {
	if env.Runbooks == nil {
		return ""
	}
	url, ok := item.Data["runbook_url"].(string)
	if !ok || url == "" {
		return ""
	}

	md, err := env.Runbooks.Fetch(ctx, url)
	if err != nil {
		// Enrichment is best effort; the RCA proceeds without it.
		env.Console.Warning(fmt.Sprintf("Runbook fetch failed: %v", err))
		return ""
	}
	return md
}

// CompactRCACommand derives an aggregate workflow: compacting completed
// RCAs (default), compacting completed enrichment RCAs ("enriched"), or
// an incident summary from previous compactions ("summary").
type CompactRCACommand struct{}

func (c *CompactRCACommand) Name() string { return "compact-rca" }
func (c *CompactRCACommand) Description() string {
	return "Summarize investigations: /compact-rca [enriched|summary]"
}

func (c *CompactRCACommand) Execute(ctx context.Context, args []string, env *Env) (Result, error) {
	local := env.Session.CurrentContext().Local

	mode := ""
	if len(args) > 0 {
		mode = args[0]
	}

	switch mode {
	case "":
		records := local.CompletedRCAs()
		if len(records) == 0 {
			return Result{}, fmt.Errorf("no completed RCAs to compact; finish at least one investigation first")
		}
		return Result{New: &NewWorkflow{
			Kind:              session.KindCompactRCA,
			Prompt:            buildCompactPrompt(records, false),
			SourceWorkflowIDs: workflowIDs(records),
		}}, nil

	case "enriched":
		var records []*session.WorkflowMetadata
		for _, m := range local.AllWorkflows() {
			if m.Kind == session.KindEnrichmentRCA && m.Completed() {
				records = append(records, m)
			}
		}
		if len(records) == 0 {
			return Result{}, fmt.Errorf("no completed enrichment RCAs to compact")
		}
		return Result{New: &NewWorkflow{
			Kind:              session.KindCompactEnrichmentRCA,
			Prompt:            buildCompactPrompt(records, true),
			SourceWorkflowIDs: workflowIDs(records),
		}}, nil

	case "summary":
		var results []string
		var sources []string
		for _, m := range []*session.WorkflowMetadata{local.CompactRCA, local.CompactEnrichmentRCA} {
			if m.Completed() && m.Result != "" {
				results = append(results, m.Result)
				sources = append(sources, m.WorkflowID)
			}
		}
		if len(results) == 0 {
			return Result{}, fmt.Errorf("no completed compaction to summarize; run /compact-rca first")
		}
		return Result{New: &NewWorkflow{
			Kind:              session.KindIncidentSummary,
			Prompt:            buildIncidentSummaryPrompt(results),
			SourceWorkflowIDs: sources,
		}}, nil

	default:
		return Result{}, fmt.Errorf("unknown mode %q: use /compact-rca, /compact-rca enriched, or /compact-rca summary", mode)
	}
}

func workflowIDs(records []*session.WorkflowMetadata) []string {
	ids := make([]string, len(records))
	for i, m := range records {
		ids[i] = m.WorkflowID
	}
	return ids
}
