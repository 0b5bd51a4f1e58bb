package session

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// LocalContext is the per-context record of imported items and the workflows
// derived from them. RCA and enrichment records are keyed by workflow id;
// the compaction and incident-summary slots are singletons.
type LocalContext struct {
	Items map[string]ContextItem `json:"items"`

	RCAs           map[string]*WorkflowMetadata `json:"rcas"`
	EnrichmentRCAs map[string]*WorkflowMetadata `json:"enrichment_rcas"`

	CompactRCA           *WorkflowMetadata `json:"compact_rca,omitempty"`
	CompactEnrichmentRCA *WorkflowMetadata `json:"compact_enrichment_rca,omitempty"`
	IncidentSummary      *WorkflowMetadata `json:"incident_summary,omitempty"`
}

// NewLocalContext creates an empty LocalContext.
func NewLocalContext() *LocalContext {
	return &LocalContext{
		Items:          make(map[string]ContextItem),
		RCAs:           make(map[string]*WorkflowMetadata),
		EnrichmentRCAs: make(map[string]*WorkflowMetadata),
	}
}

// AddItem inserts or replaces an item by id.
func (lc *LocalContext) AddItem(item ContextItem) {
	if lc.Items == nil {
		lc.Items = make(map[string]ContextItem)
	}
	lc.Items[item.ID] = item
}

// RemoveItem deletes an item by id. Workflows that reference the item by
// fingerprint are kept; investigation history outlives its triggering alert.
func (lc *LocalContext) RemoveItem(id string) bool {
	if _, ok := lc.Items[id]; !ok {
		return false
	}
	delete(lc.Items, id)
	return true
}

// Item looks up an item by id.
func (lc *LocalContext) Item(id string) (ContextItem, bool) {
	item, ok := lc.Items[id]
	return item, ok
}

// ItemsByType returns items of the given type sorted by id.
func (lc *LocalContext) ItemsByType(itemType string) []ContextItem {
	var out []ContextItem
	for _, item := range lc.Items {
		if item.Type == itemType {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alerts returns all imported alerts sorted by fingerprint.
func (lc *LocalContext) Alerts() []ContextItem {
	return lc.ItemsByType(ItemTypeAlert)
}

// AddWorkflow records a spawned workflow under the slot its kind dictates.
// The compaction and incident-summary slots hold one record each; re-adding
// overwrites (last write wins, matching re-run semantics).
func (lc *LocalContext) AddWorkflow(meta *WorkflowMetadata) error {
	if meta == nil || meta.WorkflowID == "" {
		return fmt.Errorf("workflow metadata requires a workflow id")
	}
	switch meta.Kind {
	case KindRCA:
		if lc.RCAs == nil {
			lc.RCAs = make(map[string]*WorkflowMetadata)
		}
		lc.RCAs[meta.WorkflowID] = meta
	case KindEnrichmentRCA:
		if lc.EnrichmentRCAs == nil {
			lc.EnrichmentRCAs = make(map[string]*WorkflowMetadata)
		}
		lc.EnrichmentRCAs[meta.WorkflowID] = meta
	case KindCompactRCA:
		lc.CompactRCA = meta
	case KindCompactEnrichmentRCA:
		lc.CompactEnrichmentRCA = meta
	case KindIncidentSummary:
		lc.IncidentSummary = meta
	default:
		return fmt.Errorf("unknown workflow kind: %s", meta.Kind)
	}
	return nil
}

// AllWorkflows returns a flattened view of every tracked workflow, ordered
// by creation time then workflow id for stable display.
func (lc *LocalContext) AllWorkflows() []*WorkflowMetadata {
	var out []*WorkflowMetadata
	for _, m := range lc.RCAs {
		out = append(out, m)
	}
	for _, m := range lc.EnrichmentRCAs {
		out = append(out, m)
	}
	if lc.CompactRCA != nil {
		out = append(out, lc.CompactRCA)
	}
	if lc.CompactEnrichmentRCA != nil {
		out = append(out, lc.CompactEnrichmentRCA)
	}
	if lc.IncidentSummary != nil {
		out = append(out, lc.IncidentSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}

// FindWorkflow locates a tracked workflow by id across all kinds.
func (lc *LocalContext) FindWorkflow(id string) (*WorkflowMetadata, bool) {
	for _, m := range lc.AllWorkflows() {
		if m.WorkflowID == id {
			return m, true
		}
	}
	return nil, false
}

// CompletedRCAs returns RCA records whose cached status is completed,
// sorted by workflow id. These are the compaction inputs.
func (lc *LocalContext) CompletedRCAs() []*WorkflowMetadata {
	var out []*WorkflowMetadata
	for _, m := range lc.RCAs {
		if m.Completed() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// UpdateWorkflow sets the cached status and result of a tracked workflow.
func (lc *LocalContext) UpdateWorkflow(id string, status WorkflowStatus, result string) bool {
	m, ok := lc.FindWorkflow(id)
	if !ok {
		return false
	}
	m.Status = status
	if result != "" {
		m.Result = result
	}
	return true
}

// CanEnrich reports whether enrichment workflows may be created: the
// compaction record must exist and be completed.
func (lc *LocalContext) CanEnrich() error {
	if lc.CompactRCA == nil {
		return fmt.Errorf("no compact RCA exists; run /compact-rca first")
	}
	if !lc.CompactRCA.Completed() {
		return fmt.Errorf("compact RCA %s is not completed yet", lc.CompactRCA.WorkflowID)
	}
	return nil
}

// Context is a named grouping of alerts and derived investigations.
type Context struct {
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Local *LocalContext `json:"local"`
}

// NewContext creates a Context with a fresh id and empty local store.
func NewContext(name string) *Context {
	return &Context{
		ID:    "ctx-" + uuid.New().String()[:8],
		Name:  name,
		Local: NewLocalContext(),
	}
}

// DisplayName returns the name when set, otherwise the id.
func (c *Context) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
