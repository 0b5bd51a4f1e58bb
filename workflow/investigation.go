package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/oncallsh/sleuth/llm"
)

// Result strings reported when the run loop exits without a final report
// from the agent.
const (
	ResultTerminated = "Investigation terminated by operator"
)

// DefaultMaxTurns bounds the conversation when no override is configured.
const DefaultMaxTurns = 50

// Investigation is the human-in-the-loop state machine. All externally
// visible mutation goes through HandleSignal; HandleQuery reads a
// consistent snapshot. Run is the single internal loop, suspending at
// exactly two points: waiting for start and waiting for an operator
// action.
type Investigation struct {
	mu sync.Mutex

	state           State
	userPrompt      string
	currentQuestion string
	suggestedTools  []string
	findings        string
	finalReport     string
	errorMessage    string
	pendingAction   *Action

	started bool
	ended   bool
	startCh chan struct{}
	endCh   chan struct{}
	// actionCh holds at most one wake-up token; pendingAction is the
	// actual payload. A token without a payload is a spurious wake.
	actionCh chan struct{}

	runner   AgentRunner
	catalog  ToolCatalog
	maxTurns int
	logger   *slog.Logger
}

// Option configures an Investigation.
type Option func(*Investigation)

// WithMaxTurns overrides the turn budget.
func WithMaxTurns(n int) Option {
	return func(inv *Investigation) {
		if n > 0 {
			inv.maxTurns = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Investigation) {
		inv.logger = logger
	}
}

// NewInvestigation creates a pending investigation.
func NewInvestigation(runner AgentRunner, catalog ToolCatalog, opts ...Option) *Investigation {
	inv := &Investigation{
		state:    StatePending,
		startCh:  make(chan struct{}),
		endCh:    make(chan struct{}),
		actionCh: make(chan struct{}, 1),
		runner:   runner,
		catalog:  catalog,
		maxTurns: DefaultMaxTurns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// HandleSignal applies a signal. Handlers are idempotent: duplicate
// deliveries of start_execution and end_workflow are no-ops, and
// provide_action outside awaiting_input is tolerated.
func (inv *Investigation) HandleSignal(name string, payload []byte) error {
	switch name {
	case SignalStartExecution:
		return inv.handleStart(payload)
	case SignalProvideAction:
		return inv.handleAction(payload)
	case SignalEndWorkflow:
		inv.handleEnd()
		return nil
	default:
		return fmt.Errorf("unknown signal: %s", name)
	}
}

func (inv *Investigation) handleStart(payload []byte) error {
	var input StartInput
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &input); err != nil {
			return fmt.Errorf("decode start payload: %w", err)
		}
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.started || inv.state.Terminal() {
		inv.logger.Debug("Duplicate start signal ignored")
		return nil
	}
	inv.started = true
	inv.userPrompt = input.UserPrompt
	close(inv.startCh)
	return nil
}

func (inv *Investigation) handleAction(payload []byte) error {
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return fmt.Errorf("decode action payload: %w", err)
	}
	if action.Kind == "" {
		action.Kind = ActionText
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state.Terminal() {
		inv.logger.Debug("Action after terminal state ignored")
		return nil
	}

	inv.pendingAction = &action
	select {
	case inv.actionCh <- struct{}{}:
	default:
	}
	return nil
}

func (inv *Investigation) handleEnd() {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.ended || inv.state.Terminal() {
		return
	}
	inv.ended = true
	close(inv.endCh)
}

// HandleQuery answers a query. get_status is side-effect-free and valid
// in every state, including before start_execution.
func (inv *Investigation) HandleQuery(name string) (any, error) {
	switch name {
	case QueryGetStatus:
		return inv.Status(), nil
	default:
		return nil, fmt.Errorf("unknown query: %s", name)
	}
}

// Status returns a snapshot of the externally visible state.
func (inv *Investigation) Status() Status {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	return Status{
		State:           inv.state,
		CurrentQuestion: inv.currentQuestion,
		SuggestedTools:  append([]string(nil), inv.suggestedTools...),
		Findings:        inv.findings,
		FinalReport:     inv.finalReport,
		ErrorMessage:    inv.errorMessage,
	}
}

// Run executes the investigation loop until completion, failure, or
// operator termination. A panic from the agent runner marks the
// investigation failed and is re-raised so the host records it.
func (inv *Investigation) Run(ctx context.Context) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv.fail(fmt.Sprintf("investigation panic: %v", r))
			panic(r)
		}
	}()

	// Suspension point: wait for start_execution.
	select {
	case <-inv.startCh:
	case <-inv.endCh:
		return inv.complete(ResultTerminated), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}

	tools, err := inv.catalog.Discover(ctx)
	if err != nil {
		msg := fmt.Sprintf("tool discovery failed: %v", err)
		inv.fail(msg)
		return "", fmt.Errorf("%s", msg)
	}

	inv.setExecuting()

	transcript := []llm.Message{
		{Role: "system", Content: buildSystemPrompt(tools)},
		{Role: "user", Content: inv.UserPrompt()},
	}

	var lastReply string
	for turn := 0; turn < inv.maxTurns; turn++ {
		reply, err := inv.runner.RunTurn(ctx, transcript)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Agent failures become conversational input, not faults.
			inv.logger.Warn("Agent turn failed", "turn", turn, "error", err)
			transcript = append(transcript, llm.Message{
				Role:    "system",
				Content: fmt.Sprintf("The previous step failed with an error: %v. Decide how to proceed, asking the operator for help if needed.", err),
			})
			continue
		}
		lastReply = reply
		transcript = append(transcript, llm.Message{Role: "assistant", Content: reply})

		req := ParseHumanInput(reply)
		inv.setAwaiting(req)

		action, terminated := inv.awaitAction(ctx)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if terminated {
			return inv.complete(ResultTerminated), nil
		}

		inv.setExecuting()
		transcript = append(transcript, llm.Message{
			Role:    "user",
			Content: formatAction(action),
		})
	}

	summary := "Max iterations reached."
	if lastReply != "" {
		summary = fmt.Sprintf("Max iterations reached. Last agent output:\n%s", lastReply)
	}
	return inv.complete(summary), nil
}

// awaitAction blocks until an operator action arrives, the operator ends
// the workflow, or ctx is cancelled. Wake-ups without a pending action
// (stale tokens from actions delivered while executing) re-enter the wait.
func (inv *Investigation) awaitAction(ctx context.Context) (Action, bool) {
	for {
		select {
		case <-inv.actionCh:
			inv.mu.Lock()
			if inv.pendingAction == nil {
				inv.mu.Unlock()
				continue
			}
			action := *inv.pendingAction
			inv.pendingAction = nil
			inv.mu.Unlock()
			return action, false
		case <-inv.endCh:
			return Action{}, true
		case <-ctx.Done():
			return Action{}, false
		}
	}
}

func (inv *Investigation) setExecuting() {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.state = StateExecuting
	inv.currentQuestion = ""
	inv.suggestedTools = nil
	inv.findings = ""
}

// setAwaiting publishes the agent's request and clears any action that
// arrived while executing, so a stale response is never applied to a new
// question.
func (inv *Investigation) setAwaiting(req HumanInputRequest) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.state = StateAwaitingInput
	inv.currentQuestion = req.Question
	inv.suggestedTools = req.SuggestedTools
	inv.findings = req.Findings
	inv.pendingAction = nil
	select {
	case <-inv.actionCh:
	default:
	}
}

func (inv *Investigation) complete(result string) string {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.state = StateCompleted
	inv.finalReport = result
	inv.currentQuestion = ""
	inv.suggestedTools = nil
	inv.findings = ""
	return result
}

func (inv *Investigation) fail(msg string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.state = StateFailed
	inv.errorMessage = msg
}

// UserPrompt returns the task text set by start_execution.
func (inv *Investigation) UserPrompt() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.userPrompt
}

func formatAction(action Action) string {
	switch action.Kind {
	case ActionToolResult:
		return fmt.Sprintf("[tool result] %s", action.Content)
	case ActionApproval:
		return fmt.Sprintf("[operator approval] %s", action.Content)
	default:
		return action.Content
	}
}

func buildSystemPrompt(tools []string) string {
	var b strings.Builder
	b.WriteString("You are an infrastructure investigation agent. Work through the task step by step.\n")
	if len(tools) > 0 {
		b.WriteString("Available capability providers: ")
		b.WriteString(strings.Join(tools, ", "))
		b.WriteString(".\n")
	}
	b.WriteString("When you need the operator to answer a question, run a tool for you, or approve an action, reply with the line:\n")
	b.WriteString(HumanInputMarker + `: {"question": "...", "suggested_tools": ["..."], "findings": "..."}` + "\n")
	b.WriteString("Findings should summarize what you have learned so far.")
	return b.String()
}
