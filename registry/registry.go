// Package registry maps alert names to prompt templates. Templates are
// YAML files loaded from a directory tree and hot-reloaded on change, so
// operators can tune prompts without restarting the worker.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Template declares which alerts it applies to and how to build their
// investigation prompt. The alert field may be an exact name or a glob
// pattern ("KubePod*").
type Template struct {
	Alert        string   `yaml:"alert"`
	Capabilities []string `yaml:"capabilities"`
	Prompt       string   `yaml:"prompt"`

	source string
	parsed *template.Template
}

// PromptData is what a prompt template renders against.
type PromptData struct {
	Name        string
	Fingerprint string
	Summary     string
	Severity    string
	Labels      map[string]string
	Annotations map[string]string
}

// Render builds the investigation prompt for one alert.
func (t *Template) Render(data PromptData) (string, error) {
	var b strings.Builder
	if err := t.parsed.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.source, err)
	}
	return b.String(), nil
}

// Registry holds the loaded templates.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	templates []*Template
}

// New loads all templates under dir.
func New(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dir: dir, logger: logger}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load re-reads every template file under the registry directory.
// Files that fail to parse are skipped with a warning so one bad
// template cannot take the receiver down.
func (r *Registry) Load() error {
	paths, err := doublestar.FilepathGlob(filepath.Join(r.dir, "**", "*.yaml"))
	if err != nil {
		return fmt.Errorf("glob template files: %w", err)
	}
	more, err := doublestar.FilepathGlob(filepath.Join(r.dir, "**", "*.yml"))
	if err != nil {
		return fmt.Errorf("glob template files: %w", err)
	}
	paths = append(paths, more...)
	sort.Strings(paths)

	var templates []*Template
	for _, path := range paths {
		tpl, err := loadTemplate(path)
		if err != nil {
			r.logger.Warn("Skipping template", "path", path, "error", err)
			continue
		}
		templates = append(templates, tpl)
	}

	r.mu.Lock()
	r.templates = templates
	r.mu.Unlock()

	r.logger.Info("Loaded prompt templates", "dir", r.dir, "count", len(templates))
	return nil
}

func loadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if tpl.Alert == "" {
		return nil, fmt.Errorf("template has no alert field")
	}
	if tpl.Prompt == "" {
		return nil, fmt.Errorf("template has no prompt field")
	}

	parsed, err := template.New(filepath.Base(path)).Parse(tpl.Prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}

	tpl.source = path
	tpl.parsed = parsed
	return &tpl, nil
}

// Match resolves the template for an alert name. Exact-name templates
// win over glob patterns; within each group files match in path order.
func (r *Registry) Match(alertName string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tpl := range r.templates {
		if tpl.Alert == alertName {
			return tpl, true
		}
	}
	for _, tpl := range r.templates {
		if ok, err := doublestar.Match(tpl.Alert, alertName); err == nil && ok {
			return tpl, true
		}
	}
	return nil, false
}

// Len returns the number of loaded templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Watch reloads the registry whenever a file under the directory
// changes, until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create template watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch template dir: %w", err)
	}
	// Subdirectories need their own watches.
	entries, err := os.ReadDir(r.dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				watcher.Add(filepath.Join(r.dir, e.Name()))
			}
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				r.logger.Debug("Template change detected", "path", event.Name, "op", event.Op.String())
				if err := r.Load(); err != nil {
					r.logger.Warn("Template reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Template watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
