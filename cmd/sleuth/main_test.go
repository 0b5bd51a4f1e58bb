package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oncallsh/sleuth/alertsource"
	"github.com/oncallsh/sleuth/config"
)

func TestBuildCorrelationPrompt(t *testing.T) {
	alerts := []alertsource.Alert{
		{
			Fingerprint: "abc123",
			Labels:      map[string]string{"alertname": "PodCrash", "severity": "critical"},
			Annotations: map[string]string{"summary": "pod keeps restarting"},
		},
		{
			Fingerprint: "def456",
			Labels:      map[string]string{"alertname": "HighLatency"},
		},
	}

	prompt := buildCorrelationPrompt(alerts, []string{"kubernetes", "grafana"})

	assert.Contains(t, prompt, "PodCrash")
	assert.Contains(t, prompt, "abc123")
	assert.Contains(t, prompt, "pod keeps restarting")
	assert.Contains(t, prompt, "HighLatency")
	assert.Contains(t, prompt, "kubernetes, grafana")
}

func TestBuildCorrelationPromptWithoutProviders(t *testing.T) {
	prompt := buildCorrelationPrompt([]alertsource.Alert{{Fingerprint: "x"}}, nil)
	assert.NotContains(t, prompt, "capability providers")
}

func TestHostFlagsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	f := hostFlags{url: "nats://other:4222", queue: "oncall"}
	f.apply(cfg)

	assert.Equal(t, "nats://other:4222", cfg.Host.URL)
	assert.Equal(t, "oncall", cfg.Host.Queue)
	assert.NotEmpty(t, cfg.Host.Namespace)
}
