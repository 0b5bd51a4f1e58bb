// Package receiver accepts Alertmanager webhook payloads and triggers an
// investigation for every firing alert that has a registered prompt
// template.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oncallsh/sleuth/registry"
	"github.com/oncallsh/sleuth/workflow"
)

// maxPayloadSize bounds the webhook request body.
const maxPayloadSize = 8 * 1024 * 1024 // 8MB

// WorkflowStarter is the slice of the host client the receiver needs.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, wfType string, input any, id, queue string, memo map[string]string) (string, error)
	Signal(ctx context.Context, workflowID, name string, payload any) error
}

// Payload is the Alertmanager webhook body.
type Payload struct {
	Status string  `json:"status"`
	Alerts []Alert `json:"alerts"`
}

// Alert is one alert within a webhook payload.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Fingerprint string            `json:"fingerprint"`
	StartsAt    time.Time         `json:"startsAt"`
}

func (a Alert) name() string {
	if n := a.Labels["alertname"]; n != "" {
		return n
	}
	return "unknown"
}

// Response reports which workflows a webhook delivery triggered.
type Response struct {
	Triggered []TriggeredWorkflow `json:"triggered"`
	Skipped   int                 `json:"skipped"`
}

// TriggeredWorkflow pairs an alert with the investigation it started.
type TriggeredWorkflow struct {
	Alert        string   `json:"alert"`
	Fingerprint  string   `json:"fingerprint"`
	WorkflowID   string   `json:"workflow_id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Receiver handles webhook deliveries.
type Receiver struct {
	starter  WorkflowStarter
	registry *registry.Registry
	queue    string
	logger   *slog.Logger
}

// New creates a Receiver that starts investigations on the given queue.
func New(starter WorkflowStarter, reg *registry.Registry, queue string, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{starter: starter, registry: reg, queue: queue, logger: logger}
}

// ServeHTTP implements the webhook endpoint.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "parse payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := Response{}
	for _, alert := range payload.Alerts {
		if alert.Status != "" && alert.Status != "firing" {
			resp.Skipped++
			continue
		}

		triggered, err := rc.trigger(r.Context(), alert)
		if err != nil {
			rc.logger.Error("Trigger investigation failed",
				"alert", alert.name(),
				"fingerprint", alert.Fingerprint,
				"error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if triggered == nil {
			resp.Skipped++
			continue
		}
		resp.Triggered = append(resp.Triggered, *triggered)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (rc *Receiver) trigger(ctx context.Context, alert Alert) (*TriggeredWorkflow, error) {
	tpl, ok := rc.registry.Match(alert.name())
	if !ok {
		rc.logger.Debug("No template for alert", "alert", alert.name())
		return nil, nil
	}

	prompt, err := tpl.Render(registry.PromptData{
		Name:        alert.name(),
		Fingerprint: alert.Fingerprint,
		Summary:     alert.Annotations["summary"],
		Severity:    alert.Labels["severity"],
		Labels:      alert.Labels,
		Annotations: alert.Annotations,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt for %s: %w", alert.name(), err)
	}

	memo := map[string]string{
		"alertname":   alert.name(),
		"fingerprint": alert.Fingerprint,
		"origin":      "webhook",
	}
	id, err := rc.starter.StartWorkflow(ctx, workflow.WorkflowType, nil, "", rc.queue, memo)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	if err := rc.starter.Signal(ctx, id, workflow.SignalStartExecution, workflow.StartInput{UserPrompt: prompt}); err != nil {
		return nil, fmt.Errorf("signal start: %w", err)
	}

	rc.logger.Info("Triggered investigation",
		"alert", alert.name(),
		"fingerprint", alert.Fingerprint,
		"workflow_id", id)

	return &TriggeredWorkflow{
		Alert:        alert.name(),
		Fingerprint:  alert.Fingerprint,
		WorkflowID:   id,
		Capabilities: tpl.Capabilities,
	}, nil
}
