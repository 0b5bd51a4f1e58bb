package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oncallsh/sleuth/session"
)

// describeItem renders an imported alert item as structured text for
// embedding in a prompt.
func describeItem(item session.ContextItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert fingerprint: %s\n", item.ID)

	keys := make([]string, 0, len(item.Data))
	for k := range item.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, item.Data[k])
	}
	return b.String()
}

// buildRCAPrompt is the task text for a single-alert root cause analysis.
func buildRCAPrompt(item session.ContextItem, runbookMD string) string {
	var b strings.Builder
	b.WriteString("Perform a root cause analysis for the following alert.\n\n")
	b.WriteString(describeItem(item))
	if runbookMD != "" {
		b.WriteString("\nThe alert's runbook:\n\n")
		b.WriteString(runbookMD)
		b.WriteString("\n")
	}
	b.WriteString("\nInvestigate the underlying cause, gathering evidence before concluding. ")
	b.WriteString("Ask the operator when you need access, approval, or missing details.")
	return b.String()
}

// buildEnrichmentPrompt seeds a follow-up RCA with the compaction summary.
func buildEnrichmentPrompt(item session.ContextItem, compactResult, runbookMD string) string {
	var b strings.Builder
	b.WriteString("Perform a follow-up root cause analysis for the alert below, using the cross-alert summary as additional context.\n\n")
	b.WriteString(describeItem(item))
	b.WriteString("\nSummary of prior investigations across related alerts:\n\n")
	b.WriteString(compactResult)
	b.WriteString("\n")
	if runbookMD != "" {
		b.WriteString("\nThe alert's runbook:\n\n")
		b.WriteString(runbookMD)
		b.WriteString("\n")
	}
	b.WriteString("\nFocus on what the summary does not yet explain for this specific alert.")
	return b.String()
}

// buildCompactPrompt aggregates completed investigation reports for
// cross-alert compaction.
func buildCompactPrompt(records []*session.WorkflowMetadata, enriched bool) string {
	var b strings.Builder
	if enriched {
		b.WriteString("Compact the following completed enrichment investigations into one summary.\n")
	} else {
		b.WriteString("Compact the following completed root cause analyses into one summary.\n")
	}
	b.WriteString("Identify shared causes, group related alerts, and call out contradictions.\n\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "--- Investigation %d (workflow %s", i+1, rec.WorkflowID)
		if rec.AlertFingerprint != "" {
			fmt.Fprintf(&b, ", alert %s", rec.AlertFingerprint)
		}
		b.WriteString(") ---\n")
		b.WriteString(rec.Result)
		b.WriteString("\n\n")
	}
	b.WriteString("Produce a single consolidated summary.")
	return b.String()
}

// buildIncidentSummaryPrompt turns compaction output into an operator-
// facing incident summary.
func buildIncidentSummaryPrompt(compactResults []string) string {
	var b strings.Builder
	b.WriteString("Write an incident summary for a human audience from the investigation summaries below: ")
	b.WriteString("what happened, impact, root cause, and follow-up actions.\n\n")
	for i, r := range compactResults {
		fmt.Fprintf(&b, "--- Summary %d ---\n%s\n\n", i+1, r)
	}
	return b.String()
}
