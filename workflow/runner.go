package workflow

import (
	"context"
	"time"

	"github.com/oncallsh/sleuth/llm"
)

// LLMRunner is the production AgentRunner: one chat completion per turn
// against an OpenAI-compatible endpoint, with a bounded per-call timeout.
type LLMRunner struct {
	client      *llm.Client
	temperature *float64
	timeout     time.Duration
}

// NewLLMRunner wraps an llm.Client as an AgentRunner. A zero timeout
// defaults to two minutes per turn.
func NewLLMRunner(client *llm.Client, temperature *float64, timeout time.Duration) *LLMRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LLMRunner{client: client, temperature: temperature, timeout: timeout}
}

// RunTurn sends the transcript and returns the agent's reply.
func (r *LLMRunner) RunTurn(ctx context.Context, transcript []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Complete(ctx, llm.Request{
		Messages:    transcript,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
