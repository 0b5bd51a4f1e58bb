package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/oncallsh/sleuth/workflow"
)

// ErrNotFound reports a workflow id no live worker knows about.
var ErrNotFound = errors.New("workflow not found")

const defaultQueryTimeout = 5 * time.Second

// Connect dials NATS with the reconnect settings used across the project.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Client is the RPC surface consumed by the CLI and the webhook receiver.
type Client struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	namespace string
	logger    *slog.Logger
}

// NewClient wraps an established NATS connection. The workflow stream for
// the namespace is created if missing so starts survive until a worker
// picks them up.
func NewClient(ctx context.Context, nc *nats.Conn, namespace string, logger *slog.Logger) (*Client, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := ensureStream(ctx, js, namespace); err != nil {
		return nil, err
	}

	return &Client{nc: nc, js: js, namespace: namespace, logger: logger}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, namespace string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: streamName(namespace),
		Subjects: []string{
			fmt.Sprintf("%s.wf.start.>", namespace),
			fmt.Sprintf("%s.wf.signal.>", namespace),
		},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("ensure workflow stream: %w", err)
	}
	return nil
}

// StartWorkflow publishes a start request to the queue. An empty id gets
// a generated inv- id. Returns the workflow id.
func (c *Client) StartWorkflow(ctx context.Context, wfType string, input any, id, queue string, memo map[string]string) (string, error) {
	if wfType == "" {
		return "", fmt.Errorf("workflow type is required")
	}
	if queue == "" {
		return "", fmt.Errorf("queue is required")
	}
	if id == "" {
		id = "inv-" + uuid.New().String()[:8]
	}

	var raw json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("marshal workflow input: %w", err)
		}
		raw = data
	}

	req := StartRequest{WorkflowID: id, Type: wfType, Input: raw, Memo: memo}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}

	if _, err := c.js.Publish(ctx, startSubject(c.namespace, queue), data); err != nil {
		return "", fmt.Errorf("publish start request: %w", err)
	}

	c.logger.Debug("Started workflow", "workflow_id", id, "type", wfType, "queue", queue)
	return id, nil
}

// Signal delivers a named signal to a workflow instance. Fire-and-forget:
// the publish is acknowledged by JetStream, not by the instance.
func (c *Client) Signal(ctx context.Context, workflowID, name string, payload any) error {
	if workflowID == "" || name == "" {
		return fmt.Errorf("workflow id and signal name are required")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal signal payload: %w", err)
		}
		raw = data
	}

	data, err := json.Marshal(SignalEnvelope{Name: name, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal signal envelope: %w", err)
	}

	if _, err := c.js.Publish(ctx, signalSubject(c.namespace, workflowID), data); err != nil {
		return fmt.Errorf("publish signal %s: %w", name, err)
	}
	return nil
}

// Query performs a synchronous query against the live instance.
func (c *Client) Query(ctx context.Context, workflowID, name string) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, querySubject(c.namespace, workflowID, name), nil)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, fmt.Errorf("query %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s on %s: %w", name, workflowID, err)
	}

	var resp QueryResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if resp.Error != "" {
		if resp.Error == ErrNotFound.Error() {
			return nil, fmt.Errorf("query %s: %w", workflowID, ErrNotFound)
		}
		return nil, fmt.Errorf("query %s: %s", name, resp.Error)
	}
	return resp.Result, nil
}

// GetStatus runs the get_status query and decodes the investigation
// status snapshot.
func (c *Client) GetStatus(ctx context.Context, workflowID string) (workflow.Status, error) {
	raw, err := c.Query(ctx, workflowID, workflow.QueryGetStatus)
	if err != nil {
		return workflow.Status{}, err
	}

	var status workflow.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return workflow.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// ListWorkflows returns registry records for a queue, newest first. An
// empty statusFilter matches every status; an empty queue matches every
// queue.
func (c *Client) ListWorkflows(ctx context.Context, queue, statusFilter string) ([]Record, error) {
	kv, err := c.js.KeyValue(ctx, registryBucket(c.namespace))
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("open workflow registry: %w", err)
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry keys: %w", err)
	}

	var out []Record
	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			c.logger.Warn("Skipping malformed registry record", "key", key, "error", err)
			continue
		}
		if queue != "" && rec.Queue != queue {
			continue
		}
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
