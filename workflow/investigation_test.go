package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallsh/sleuth/llm"
)

// scriptedRunner returns canned replies (or errors) in order and records
// every transcript it was called with.
type scriptedRunner struct {
	mu          sync.Mutex
	replies     []string
	errs        []error
	transcripts [][]llm.Message
	calls       int
}

func (r *scriptedRunner) RunTurn(ctx context.Context, transcript []llm.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transcripts = append(r.transcripts, append([]llm.Message(nil), transcript...))
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	if i < len(r.replies) {
		return r.replies[i], nil
	}
	return "no more scripted replies", nil
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *scriptedRunner) lastTranscript() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transcripts) == 0 {
		return nil
	}
	return r.transcripts[len(r.transcripts)-1]
}

type panicRunner struct{}

func (panicRunner) RunTurn(ctx context.Context, transcript []llm.Message) (string, error) {
	panic("runner exploded")
}

func startSignal(t *testing.T, prompt string) []byte {
	t.Helper()
	b, err := json.Marshal(StartInput{UserPrompt: prompt})
	require.NoError(t, err)
	return b
}

func actionSignal(t *testing.T, action Action) []byte {
	t.Helper()
	b, err := json.Marshal(action)
	require.NoError(t, err)
	return b
}

func waitForState(t *testing.T, inv *Investigation, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return inv.Status().State == want
	}, 2*time.Second, 2*time.Millisecond, "never reached state %s", want)
}

func runAsync(inv *Investigation) (<-chan string, <-chan error) {
	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := inv.Run(context.Background())
		resultCh <- result
		errCh <- err
	}()
	return resultCh, errCh
}

func TestStatusBeforeAnySignal(t *testing.T) {
	inv := NewInvestigation(&scriptedRunner{}, StaticCatalog{"kubernetes"})

	got, err := inv.HandleQuery(QueryGetStatus)
	require.NoError(t, err)

	status, ok := got.(Status)
	require.True(t, ok)
	assert.Equal(t, StatePending, status.State)
	assert.Empty(t, status.CurrentQuestion)
	assert.Empty(t, status.SuggestedTools)
	assert.Empty(t, status.Findings)
	assert.Empty(t, status.FinalReport)
	assert.Empty(t, status.ErrorMessage)
}

func TestUnknownSignalAndQuery(t *testing.T) {
	inv := NewInvestigation(&scriptedRunner{}, StaticCatalog{})

	assert.Error(t, inv.HandleSignal("bogus", nil))
	_, err := inv.HandleQuery("bogus")
	assert.Error(t, err)
}

func TestDuplicateStartExecutesOnce(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`NEED_HUMAN_INPUT: {"question": "which namespace?"}`,
	}}
	inv := NewInvestigation(runner, StaticCatalog{"kubernetes"})
	resultCh, errCh := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "why is the pod stuck?")))
	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "a different prompt")))
	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "yet another")))

	waitForState(t, inv, StateAwaitingInput)
	assert.Equal(t, "why is the pod stuck?", inv.UserPrompt())
	assert.Equal(t, 1, runner.callCount())

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	assert.Equal(t, ResultTerminated, <-resultCh)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateCompleted, inv.Status().State)
}

func TestQuestionAnswerCycle(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`NEED_HUMAN_INPUT: {"question": "which namespace?", "suggested_tools": ["kubernetes"], "findings": "pod is pending"}`,
		`NEED_HUMAN_INPUT: {"question": "may I describe the pod?"}`,
	}}
	inv := NewInvestigation(runner, StaticCatalog{"kubernetes"})
	resultCh, _ := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "investigate")))
	waitForState(t, inv, StateAwaitingInput)

	status := inv.Status()
	assert.Equal(t, "which namespace?", status.CurrentQuestion)
	assert.Equal(t, []string{"kubernetes"}, status.SuggestedTools)
	assert.Equal(t, "pod is pending", status.Findings)

	require.NoError(t, inv.HandleSignal(SignalProvideAction, actionSignal(t, Action{Kind: ActionText, Content: "namespace prod"})))
	require.Eventually(t, func() bool {
		return inv.Status().CurrentQuestion == "may I describe the pod?"
	}, 2*time.Second, 2*time.Millisecond)

	// Transient fields from the first question were cleared and replaced.
	status = inv.Status()
	assert.Equal(t, StateAwaitingInput, status.State)
	assert.Empty(t, status.Findings)

	transcript := runner.lastTranscript()
	require.NotEmpty(t, transcript)
	assert.Equal(t, "namespace prod", transcript[len(transcript)-1].Content)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	<-resultCh
}

func TestActionWhileExecutingIsNotApplied(t *testing.T) {
	firstTurn := make(chan struct{})
	blockingRunner := &blockedRunner{release: firstTurn, reply: `NEED_HUMAN_INPUT: {"question": "q1"}`}
	inv := NewInvestigation(blockingRunner, StaticCatalog{})
	resultCh, _ := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))

	// Action delivered while the agent turn is still in flight.
	require.NoError(t, inv.HandleSignal(SignalProvideAction, actionSignal(t, Action{Kind: ActionText, Content: "stale answer"})))
	close(firstTurn)

	// The machine must land in awaiting_input and stay there: the stale
	// action was cleared when the question was published.
	waitForState(t, inv, StateAwaitingInput)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateAwaitingInput, inv.Status().State)
	assert.Equal(t, "q1", inv.Status().CurrentQuestion)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	<-resultCh
}

// blockedRunner blocks its first turn until released, then behaves like a
// one-reply script.
type blockedRunner struct {
	release <-chan struct{}
	reply   string
	once    sync.Once
}

func (r *blockedRunner) RunTurn(ctx context.Context, transcript []llm.Message) (string, error) {
	r.once.Do(func() { <-r.release })
	return r.reply, nil
}

func TestEndBeforeStart(t *testing.T) {
	inv := NewInvestigation(&scriptedRunner{}, StaticCatalog{})
	resultCh, errCh := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))

	assert.Equal(t, ResultTerminated, <-resultCh)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateCompleted, inv.Status().State)
}

func TestAgentErrorFoldedIntoTranscript(t *testing.T) {
	runner := &scriptedRunner{
		errs:    []error{errors.New("tool server unreachable")},
		replies: []string{"", `NEED_HUMAN_INPUT: {"question": "the tool failed, can you run it manually?"}`},
	}
	inv := NewInvestigation(runner, StaticCatalog{})
	resultCh, _ := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))
	waitForState(t, inv, StateAwaitingInput)

	transcript := runner.lastTranscript()
	var foundSystemError bool
	for _, m := range transcript {
		if m.Role == "system" && m.Content != transcript[0].Content {
			assert.Contains(t, m.Content, "tool server unreachable")
			foundSystemError = true
		}
	}
	assert.True(t, foundSystemError, "error was not folded into the transcript")
	assert.Equal(t, StateAwaitingInput, inv.Status().State)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	<-resultCh
}

func TestPlainProseReplySuspends(t *testing.T) {
	runner := &scriptedRunner{replies: []string{"I checked the pod and it looks OOMKilled."}}
	inv := NewInvestigation(runner, StaticCatalog{})
	resultCh, _ := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))
	waitForState(t, inv, StateAwaitingInput)

	assert.Equal(t, "I checked the pod and it looks OOMKilled.", inv.Status().CurrentQuestion)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	<-resultCh
}

func TestTurnBudgetExhaustion(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`NEED_HUMAN_INPUT: {"question": "q1"}`,
		`NEED_HUMAN_INPUT: {"question": "q2"}`,
	}}
	inv := NewInvestigation(runner, StaticCatalog{}, WithMaxTurns(2))
	resultCh, errCh := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))

	for _, q := range []string{"q1", "q2"} {
		require.Eventually(t, func() bool {
			s := inv.Status()
			return s.State == StateAwaitingInput && s.CurrentQuestion == q
		}, 2*time.Second, 2*time.Millisecond)
		require.NoError(t, inv.HandleSignal(SignalProvideAction, actionSignal(t, Action{Kind: ActionText, Content: "answer to " + q})))
	}

	result := <-resultCh
	require.NoError(t, <-errCh)
	assert.Contains(t, result, "Max iterations reached")
	assert.Contains(t, result, "q2")
	assert.Equal(t, StateCompleted, inv.Status().State)
	assert.Equal(t, result, inv.Status().FinalReport)
}

func TestRunnerPanicFailsInvestigation(t *testing.T) {
	inv := NewInvestigation(panicRunner{}, StaticCatalog{})

	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		inv.Run(context.Background())
	}()

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))

	r := <-panicked
	require.NotNil(t, r, "panic was swallowed instead of re-raised")

	status := inv.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.ErrorMessage, "runner exploded")
}

func TestToolDiscoveryFailureFails(t *testing.T) {
	inv := NewInvestigation(&scriptedRunner{}, failingCatalog{})
	resultCh, errCh := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "go")))

	<-resultCh
	require.Error(t, <-errCh)
	assert.Equal(t, StateFailed, inv.Status().State)
}

type failingCatalog struct{}

func (failingCatalog) Discover(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("discovery endpoint down")
}

func TestSignalsAfterCompletionIgnored(t *testing.T) {
	inv := NewInvestigation(&scriptedRunner{}, StaticCatalog{})
	resultCh, _ := runAsync(inv)

	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	<-resultCh

	require.NoError(t, inv.HandleSignal(SignalStartExecution, startSignal(t, "late")))
	require.NoError(t, inv.HandleSignal(SignalProvideAction, actionSignal(t, Action{Content: "late"})))
	require.NoError(t, inv.HandleSignal(SignalEndWorkflow, nil))
	assert.Equal(t, StateCompleted, inv.Status().State)
}

func TestInterleavedPollingIsLossless(t *testing.T) {
	runnerA := &scriptedRunner{replies: []string{
		`NEED_HUMAN_INPUT: {"question": "question A?", "findings": "findings A"}`,
	}}
	runnerB := &scriptedRunner{replies: []string{
		`NEED_HUMAN_INPUT: {"question": "question B?", "findings": "findings B"}`,
	}}
	invA := NewInvestigation(runnerA, StaticCatalog{})
	invB := NewInvestigation(runnerB, StaticCatalog{})
	resultA, _ := runAsync(invA)
	resultB, _ := runAsync(invB)

	require.NoError(t, invA.HandleSignal(SignalStartExecution, startSignal(t, "alert A")))
	require.NoError(t, invB.HandleSignal(SignalStartExecution, startSignal(t, "alert B")))
	waitForState(t, invA, StateAwaitingInput)
	waitForState(t, invB, StateAwaitingInput)

	// Polling B repeatedly must not disturb A's transient fields.
	for range 5 {
		assert.Equal(t, "question B?", invB.Status().CurrentQuestion)
	}
	statusA := invA.Status()
	assert.Equal(t, "question A?", statusA.CurrentQuestion)
	assert.Equal(t, "findings A", statusA.Findings)

	require.NoError(t, invB.HandleSignal(SignalEndWorkflow, nil))
	<-resultB
	statusA = invA.Status()
	assert.Equal(t, StateAwaitingInput, statusA.State)
	assert.Equal(t, "question A?", statusA.CurrentQuestion)

	require.NoError(t, invA.HandleSignal(SignalEndWorkflow, nil))
	<-resultA
}
