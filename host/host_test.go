package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallsh/sleuth/workflow"
)

// fakeMachine is a minimal workflow machine: it waits for start, reports
// executing, and completes when ended.
type fakeMachine struct {
	mu      sync.Mutex
	state   workflow.State
	prompt  string
	started chan struct{}
	done    chan struct{}
	isOn    bool
	isDone  bool
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		state:   workflow.StatePending,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *fakeMachine) HandleSignal(name string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case workflow.SignalStartExecution:
		if m.isOn {
			return nil
		}
		var input workflow.StartInput
		if err := json.Unmarshal(payload, &input); err != nil {
			return err
		}
		m.prompt = input.UserPrompt
		m.isOn = true
		close(m.started)
	case workflow.SignalEndWorkflow:
		if m.isDone {
			return nil
		}
		m.isDone = true
		close(m.done)
	default:
		return fmt.Errorf("unknown signal: %s", name)
	}
	return nil
}

func (m *fakeMachine) HandleQuery(name string) (any, error) {
	if name != workflow.QueryGetStatus {
		return nil, fmt.Errorf("unknown query: %s", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return workflow.Status{State: m.state}, nil
}

func (m *fakeMachine) Run(ctx context.Context) (string, error) {
	select {
	case <-m.started:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.mu.Lock()
	m.state = workflow.StateExecuting
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.mu.Lock()
	m.state = workflow.StateCompleted
	prompt := m.prompt
	m.mu.Unlock()
	return "done: " + prompt, nil
}

func setupHost(t *testing.T) (*Server, *Client, *atomic.Int32) {
	t.Helper()

	ns, err := StartEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	var created atomic.Int32
	srv, err := NewServer(nc, "testns", "testq", nil, nil)
	require.NoError(t, err)
	srv.Register("fake", func(input json.RawMessage) (workflow.Machine, error) {
		created.Add(1)
		return newFakeMachine(), nil
	})
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(srv.Stop)

	client, err := NewClient(ctx, nc, "testns", nil)
	require.NoError(t, err)

	return srv, client, &created
}

func TestWorkflowLifecycle(t *testing.T) {
	_, client, created := setupHost(t)
	ctx := context.Background()

	id, err := client.StartWorkflow(ctx, "fake", nil, "", "testq", map[string]string{"origin": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		status, err := client.GetStatus(ctx, id)
		return err == nil && status.State == workflow.StatePending
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Signal(ctx, id, workflow.SignalStartExecution,
		workflow.StartInput{UserPrompt: "why is the pod stuck?"}))

	require.Eventually(t, func() bool {
		status, err := client.GetStatus(ctx, id)
		return err == nil && status.State == workflow.StateExecuting
	}, 5*time.Second, 20*time.Millisecond)

	records, err := client.ListWorkflows(ctx, "testq", ExecutionRunning)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].WorkflowID)
	assert.Equal(t, "fake", records[0].Type)
	assert.Equal(t, "test", records[0].Memo["origin"])

	require.NoError(t, client.Signal(ctx, id, workflow.SignalEndWorkflow, nil))

	require.Eventually(t, func() bool {
		records, err := client.ListWorkflows(ctx, "testq", ExecutionCompleted)
		return err == nil && len(records) == 1 && records[0].Result == "done: why is the pod stuck?"
	}, 5*time.Second, 20*time.Millisecond)

	// The instance stays queryable after completion.
	status, err := client.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, status.State)

	assert.Equal(t, int32(1), created.Load())
}

func TestDuplicateStartCreatesOneInstance(t *testing.T) {
	_, client, created := setupHost(t)
	ctx := context.Background()

	_, err := client.StartWorkflow(ctx, "fake", nil, "inv-dup", "testq", nil)
	require.NoError(t, err)
	_, err = client.StartWorkflow(ctx, "fake", nil, "inv-dup", "testq", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := client.GetStatus(ctx, "inv-dup")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	// Allow the second delivery to be processed before asserting.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), created.Load())

	records, err := client.ListWorkflows(ctx, "testq", "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestQueryUnknownWorkflow(t *testing.T) {
	_, client, _ := setupHost(t)

	_, err := client.GetStatus(context.Background(), "inv-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryUnknownName(t *testing.T) {
	_, client, _ := setupHost(t)
	ctx := context.Background()

	_, err := client.StartWorkflow(ctx, "fake", nil, "inv-q", "testq", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := client.GetStatus(ctx, "inv-q")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err = client.Query(ctx, "inv-q", "bogus_query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown query")
}

func TestSignalBeforeStartIsRedelivered(t *testing.T) {
	_, client, _ := setupHost(t)
	ctx := context.Background()

	// Signal first, then start: the delayed redelivery must reach the
	// instance once it exists.
	require.NoError(t, client.Signal(ctx, "inv-early", workflow.SignalStartExecution,
		workflow.StartInput{UserPrompt: "early"}))
	_, err := client.StartWorkflow(ctx, "fake", nil, "inv-early", "testq", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := client.GetStatus(ctx, "inv-early")
		return err == nil && status.State == workflow.StateExecuting
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "PROD_EU_1", sanitize("prod-eu.1"))
	assert.Equal(t, "DEFAULT", sanitize("default"))
}
