// Package alertsource fetches and filters alerts from an Alertmanager
// instance.
package alertsource

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Alert is a single alert as returned by the Alertmanager v2 API.
type Alert struct {
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Status      AlertStatus       `json:"status"`
	GeneratorURL string           `json:"generatorURL,omitempty"`
}

// AlertStatus carries the lifecycle state reported by Alertmanager.
type AlertStatus struct {
	State       string   `json:"state"`
	SilencedBy  []string `json:"silencedBy,omitempty"`
	InhibitedBy []string `json:"inhibitedBy,omitempty"`
}

// Name returns the alertname label, or "unknown" when absent.
func (a Alert) Name() string {
	if name, ok := a.Labels["alertname"]; ok && name != "" {
		return name
	}
	return "unknown"
}

// Severity returns the severity label, or "none" when absent.
func (a Alert) Severity() string {
	if sev, ok := a.Labels["severity"]; ok && sev != "" {
		return sev
	}
	return "none"
}

// Summary returns the summary annotation, falling back to description.
func (a Alert) Summary() string {
	if s := a.Annotations["summary"]; s != "" {
		return s
	}
	return a.Annotations["description"]
}

// RunbookURL returns the runbook_url annotation when present.
func (a Alert) RunbookURL() string {
	return a.Annotations["runbook_url"]
}

// Describe renders a compact human-readable block for prompts and display.
func (a Alert) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s (fingerprint %s)\n", a.Name(), a.Fingerprint)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity())
	fmt.Fprintf(&b, "State: %s\n", a.Status.State)
	fmt.Fprintf(&b, "Started: %s\n", a.StartsAt.Format(time.RFC3339))
	if s := a.Summary(); s != "" {
		fmt.Fprintf(&b, "Summary: %s\n", s)
	}

	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		if k == "alertname" || k == "severity" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s\n", k, a.Labels[k])
	}
	return b.String()
}
