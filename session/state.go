package session

import (
	"fmt"
	"sort"
	"strings"
)

// State is the whole persisted session: every known context plus which
// context and workflow the operator is currently driving.
type State struct {
	Contexts          map[string]*Context `json:"contexts"`
	CurrentContextID  string              `json:"current_context_id,omitempty"`
	CurrentWorkflowID string              `json:"current_workflow_id,omitempty"`
}

// NewState creates an empty session state.
func NewState() *State {
	return &State{Contexts: make(map[string]*Context)}
}

// CreateContext adds a fresh context with an optional name and makes it
// current. The current workflow is cleared since it belonged to the old
// context.
func (s *State) CreateContext(name string) *Context {
	ctx := NewContext(name)
	if s.Contexts == nil {
		s.Contexts = make(map[string]*Context)
	}
	s.Contexts[ctx.ID] = ctx
	s.CurrentContextID = ctx.ID
	s.CurrentWorkflowID = ""
	return ctx
}

// CurrentContext returns the context the session is pointed at, creating a
// default one if the session has none yet.
func (s *State) CurrentContext() *Context {
	if ctx, ok := s.Contexts[s.CurrentContextID]; ok {
		return ctx
	}
	return s.CreateContext("default")
}

// SwitchContext changes the current context. The reference is resolved in
// priority order: exact id match, then case-insensitive name match, then id
// substring match. First match wins.
func (s *State) SwitchContext(ref string) (*Context, error) {
	if ctx, ok := s.Contexts[ref]; ok {
		s.setCurrent(ctx)
		return ctx, nil
	}
	for _, ctx := range s.sortedContexts() {
		if strings.EqualFold(ctx.Name, ref) && ctx.Name != "" {
			s.setCurrent(ctx)
			return ctx, nil
		}
	}
	for _, ctx := range s.sortedContexts() {
		if strings.Contains(ctx.ID, ref) {
			s.setCurrent(ctx)
			return ctx, nil
		}
	}
	return nil, fmt.Errorf("no context matches %q", ref)
}

func (s *State) setCurrent(ctx *Context) {
	if s.CurrentContextID != ctx.ID {
		s.CurrentContextID = ctx.ID
		s.CurrentWorkflowID = ""
	}
}

// AddWorkflow records a workflow in the current context and makes it the
// current workflow.
func (s *State) AddWorkflow(meta *WorkflowMetadata) error {
	ctx := s.CurrentContext()
	if err := ctx.Local.AddWorkflow(meta); err != nil {
		return err
	}
	s.CurrentWorkflowID = meta.WorkflowID
	return nil
}

// SwitchWorkflow points the session at a workflow tracked by the current
// context. A workflow id unknown to the context is accepted only when force
// is set, which covers connecting to a bare remote execution discovered via
// the host's workflow listing.
func (s *State) SwitchWorkflow(id string, force bool) error {
	ctx := s.CurrentContext()
	if _, ok := ctx.Local.FindWorkflow(id); !ok && !force {
		return fmt.Errorf("workflow %s is not tracked by context %s", id, ctx.DisplayName())
	}
	s.CurrentWorkflowID = id
	return nil
}

// ListContexts returns all contexts sorted by id for display.
func (s *State) ListContexts() []*Context {
	return s.sortedContexts()
}

func (s *State) sortedContexts() []*Context {
	out := make([]*Context, 0, len(s.Contexts))
	for _, ctx := range s.Contexts {
		out = append(out, ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
