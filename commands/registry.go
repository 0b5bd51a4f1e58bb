package commands

import (
	"sort"
	"strings"
)

// Registry maps command names to handlers. Built explicitly at process
// start; there is no package-level registration.
type Registry struct {
	byName map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Command)}
}

// Register adds a command, replacing any previous one with the same name.
func (r *Registry) Register(cmd Command) {
	r.byName[cmd.Name()] = cmd
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (Command, bool) {
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Complete returns the commands whose names start with prefix, sorted by
// name. An exact name is matched by Get; this backs completion of partial
// slash commands.
func (r *Registry) Complete(prefix string) []Command {
	var out []Command
	for name, cmd := range r.byName {
		if strings.HasPrefix(name, prefix) {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// All returns every command sorted by name.
func (r *Registry) All() []Command {
	out := make([]Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// DefaultRegistry builds the full interactive command set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&HelpCommand{registry: r})
	r.Register(&AlertsCommand{})
	r.Register(&WorkflowsCommand{})
	r.Register(&ContextCommand{})
	r.Register(&NewCommand{})
	r.Register(&SwitchCommand{})
	r.Register(&SwitchContextCommand{})
	r.Register(&CompactRCACommand{})
	r.Register(&ImportAlertsCommand{})
	r.Register(&RefreshCommand{})
	r.Register(&CompleteCommand{})
	r.Register(&EndCommand{})
	return r
}
