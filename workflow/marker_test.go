package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHumanInput(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  HumanInputRequest
	}{
		{
			name:  "structured marker",
			reply: `NEED_HUMAN_INPUT: {"question": "which cluster?", "suggested_tools": ["kubernetes"], "findings": "two clusters match"}`,
			want: HumanInputRequest{
				Question:       "which cluster?",
				SuggestedTools: []string{"kubernetes"},
				Findings:       "two clusters match",
			},
		},
		{
			name:  "marker with leading prose",
			reply: "Let me check.\nNEED_HUMAN_INPUT: {\"question\": \"ok to restart?\"}",
			want:  HumanInputRequest{Question: "ok to restart?"},
		},
		{
			name:  "marker without colon",
			reply: `NEED_HUMAN_INPUT {"question": "proceed?"}`,
			want:  HumanInputRequest{Question: "proceed?"},
		},
		{
			name:  "plain prose",
			reply: "The pod is OOMKilled, raising the memory limit should fix it.",
			want:  HumanInputRequest{Question: "The pod is OOMKilled, raising the memory limit should fix it."},
		},
		{
			name:  "marker with broken json falls back to whole reply",
			reply: `NEED_HUMAN_INPUT: {"question": "unterminated`,
			want:  HumanInputRequest{Question: `NEED_HUMAN_INPUT: {"question": "unterminated`},
		},
		{
			name:  "marker with empty question falls back",
			reply: `NEED_HUMAN_INPUT: {"findings": "nothing yet"}`,
			want:  HumanInputRequest{Question: `NEED_HUMAN_INPUT: {"findings": "nothing yet"}`},
		},
		{
			name:  "marker with no json falls back",
			reply: "NEED_HUMAN_INPUT please help",
			want:  HumanInputRequest{Question: "NEED_HUMAN_INPUT please help"},
		},
		{
			name:  "json followed by trailing prose",
			reply: `NEED_HUMAN_INPUT: {"question": "which region?"} Thanks!`,
			want:  HumanInputRequest{Question: "which region?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHumanInput(tt.reply))
		})
	}
}

func TestEnvCatalog(t *testing.T) {
	t.Setenv("SLEUTH_PROVIDERS_TEST", "kubernetes, grafana ,loki")

	c := EnvCatalog{Var: "SLEUTH_PROVIDERS_TEST", Fallback: []string{"fallback"}}
	got, err := c.Discover(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, []string{"kubernetes", "grafana", "loki"}, got)

	c = EnvCatalog{Var: "SLEUTH_PROVIDERS_UNSET", Fallback: []string{"fallback"}}
	got, err = c.Discover(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, got)
}
