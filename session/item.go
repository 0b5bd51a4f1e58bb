// Package session holds the client-side model of an investigation session:
// imported alerts, the workflows derived from them, and which context and
// workflow the operator is currently looking at. The on-disk form is JSON,
// rewritten atomically after every mutation.
package session

import "time"

// ContextItem is an imported fact, typically an alert keyed by fingerprint.
type ContextItem struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	Source string         `json:"source,omitempty"`
}

// ItemTypeAlert is the item type used for imported alerts.
const ItemTypeAlert = "alert"

// WorkflowKind identifies which derived-workflow slot a metadata record
// occupies within a local context.
type WorkflowKind string

const (
	KindRCA                  WorkflowKind = "rca"
	KindEnrichmentRCA        WorkflowKind = "enrichment_rca"
	KindCompactRCA           WorkflowKind = "compact_rca"
	KindCompactEnrichmentRCA WorkflowKind = "compact_enrichment_rca"
	KindIncidentSummary      WorkflowKind = "incident_summary"
)

// WorkflowStatus is the client-side cache of a remote investigation's
// lifecycle. It is not authoritative; the workflow host is.
type WorkflowStatus string

const (
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
)

// WorkflowMetadata tracks one spawned investigation from the client side.
// Fields beyond WorkflowID/Kind/Status/Result apply only to some kinds:
// AlertFingerprint to RCA and enrichment records, EnrichmentContext to
// enrichment records, SourceWorkflowIDs to compaction records.
type WorkflowMetadata struct {
	WorkflowID        string         `json:"workflow_id"`
	Kind              WorkflowKind   `json:"kind"`
	Status            WorkflowStatus `json:"status"`
	Result            string         `json:"result,omitempty"`
	AlertFingerprint  string         `json:"alert_fingerprint,omitempty"`
	EnrichmentContext string         `json:"enrichment_context,omitempty"`
	SourceWorkflowIDs []string       `json:"source_workflow_ids,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Completed reports whether the record's cached status is completed.
func (m *WorkflowMetadata) Completed() bool {
	return m != nil && m.Status == StatusCompleted
}
