package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/oncallsh/sleuth/workflow"
)

// MachineFactory builds a workflow machine from the start request input.
type MachineFactory func(input json.RawMessage) (workflow.Machine, error)

// signalBuffer bounds queued signals per instance; the consumer blocks
// once it fills, which backpressures JetStream redelivery.
const signalBuffer = 64

// Server is the worker side of the host: it owns the live workflow
// instances, consumes starts and signals from JetStream, and answers
// queries over request/reply.
type Server struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	namespace string
	queue     string
	factories map[string]MachineFactory
	metrics   *Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance
	kv        jetstream.KeyValue

	runCtx        context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	startConsume  jetstream.ConsumeContext
	signalConsume jetstream.ConsumeContext
	querySub      *nats.Subscription
}

type instance struct {
	id      string
	machine workflow.Machine
	signals chan SignalEnvelope
}

// NewServer creates a worker for one namespace and queue.
func NewServer(nc *nats.Conn, namespace, queue string, metrics *Metrics, logger *slog.Logger) (*Server, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Server{
		nc:        nc,
		js:        js,
		namespace: namespace,
		queue:     queue,
		factories: make(map[string]MachineFactory),
		instances: make(map[string]*instance),
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Register adds a machine factory for a workflow type. Must be called
// before Start.
func (s *Server) Register(wfType string, factory MachineFactory) {
	s.factories[wfType] = factory
}

// Start creates the stream, registry bucket, and consumers, then begins
// serving.
func (s *Server) Start(ctx context.Context) error {
	if err := ensureStream(ctx, s.js, s.namespace); err != nil {
		return err
	}

	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  registryBucket(s.namespace),
		History: 1,
	})
	if err != nil {
		return fmt.Errorf("create workflow registry: %w", err)
	}
	s.kv = kv

	s.runCtx, s.cancel = context.WithCancel(context.Background())

	startConsumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName(s.namespace), jetstream.ConsumerConfig{
		Name:          "worker-starts-" + sanitize(s.queue),
		Durable:       "worker-starts-" + sanitize(s.queue),
		FilterSubject: startSubject(s.namespace, s.queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create start consumer: %w", err)
	}
	s.startConsume, err = startConsumer.Consume(s.handleStart)
	if err != nil {
		return fmt.Errorf("consume starts: %w", err)
	}

	signalConsumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName(s.namespace), jetstream.ConsumerConfig{
		Name:          "worker-signals",
		Durable:       "worker-signals",
		FilterSubject: fmt.Sprintf("%s.wf.signal.>", s.namespace),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("create signal consumer: %w", err)
	}
	s.signalConsume, err = signalConsumer.Consume(s.handleSignal)
	if err != nil {
		return fmt.Errorf("consume signals: %w", err)
	}

	s.querySub, err = s.nc.Subscribe(queryWildcard(s.namespace), s.handleQuery)
	if err != nil {
		return fmt.Errorf("subscribe to queries: %w", err)
	}

	s.logger.Info("Workflow worker started",
		"namespace", s.namespace,
		"queue", s.queue,
		"types", len(s.factories))
	return nil
}

// Stop shuts down consumers and cancels running instances.
func (s *Server) Stop() {
	if s.startConsume != nil {
		s.startConsume.Stop()
	}
	if s.signalConsume != nil {
		s.signalConsume.Stop()
	}
	if s.querySub != nil {
		s.querySub.Unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Server) handleStart(msg jetstream.Msg) {
	var req StartRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		s.logger.Error("Malformed start request", "error", err)
		msg.Term()
		return
	}
	if req.WorkflowID == "" {
		s.logger.Error("Start request without workflow id")
		msg.Term()
		return
	}

	factory, ok := s.factories[req.Type]
	if !ok {
		s.logger.Error("No factory for workflow type", "type", req.Type, "workflow_id", req.WorkflowID)
		msg.Term()
		return
	}

	s.mu.Lock()
	if _, exists := s.instances[req.WorkflowID]; exists {
		s.mu.Unlock()
		s.logger.Debug("Duplicate start delivery ignored", "workflow_id", req.WorkflowID)
		msg.Ack()
		return
	}

	machine, err := factory(req.Input)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("Machine factory failed", "workflow_id", req.WorkflowID, "error", err)
		s.putRecord(&Record{
			WorkflowID: req.WorkflowID,
			Type:       req.Type,
			Queue:      s.queue,
			Status:     ExecutionFailed,
			Error:      err.Error(),
			Memo:       req.Memo,
			StartedAt:  time.Now().UTC(),
		})
		msg.Term()
		return
	}

	inst := &instance{
		id:      req.WorkflowID,
		machine: machine,
		signals: make(chan SignalEnvelope, signalBuffer),
	}
	s.instances[req.WorkflowID] = inst
	s.mu.Unlock()

	s.putRecord(&Record{
		WorkflowID: req.WorkflowID,
		Type:       req.Type,
		Queue:      s.queue,
		Status:     ExecutionRunning,
		Memo:       req.Memo,
		StartedAt:  time.Now().UTC(),
	})
	s.metrics.Started.Inc()
	s.logger.Info("Workflow instance created", "workflow_id", req.WorkflowID, "type", req.Type)

	s.wg.Add(2)
	go s.pumpSignals(inst)
	go s.runInstance(inst)

	msg.Ack()
}

// pumpSignals applies signals to one instance in delivery order. A single
// goroutine per instance keeps handler execution serialized.
func (s *Server) pumpSignals(inst *instance) {
	defer s.wg.Done()
	for {
		select {
		case env := <-inst.signals:
			if err := inst.machine.HandleSignal(env.Name, env.Payload); err != nil {
				s.logger.Warn("Signal handler failed",
					"workflow_id", inst.id,
					"signal", env.Name,
					"error", err)
			}
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Server) runInstance(inst *instance) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Workflow run panicked", "workflow_id", inst.id, "panic", r)
			s.finishRecord(inst.id, ExecutionFailed, "", fmt.Sprintf("panic: %v", r))
			s.metrics.Failed.Inc()
		}
	}()

	result, err := inst.machine.Run(s.runCtx)
	if err != nil {
		if s.runCtx.Err() != nil {
			// Worker shutdown, not a workflow failure.
			return
		}
		s.logger.Warn("Workflow failed", "workflow_id", inst.id, "error", err)
		s.finishRecord(inst.id, ExecutionFailed, "", err.Error())
		s.metrics.Failed.Inc()
		return
	}

	s.logger.Info("Workflow completed", "workflow_id", inst.id)
	s.finishRecord(inst.id, ExecutionCompleted, result, "")
	s.metrics.Completed.Inc()
}

func (s *Server) handleSignal(msg jetstream.Msg) {
	tokens := strings.Split(msg.Subject(), ".")
	workflowID := tokens[len(tokens)-1]

	var env SignalEnvelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		s.logger.Error("Malformed signal envelope", "workflow_id", workflowID, "error", err)
		msg.Term()
		return
	}

	s.mu.Lock()
	inst, ok := s.instances[workflowID]
	s.mu.Unlock()
	if !ok {
		// The start may still be in flight; redeliver with a delay.
		s.logger.Debug("Signal for unknown instance, delaying", "workflow_id", workflowID, "signal", env.Name)
		msg.NakWithDelay(500 * time.Millisecond)
		return
	}

	select {
	case inst.signals <- env:
		s.metrics.Signals.Inc()
		msg.Ack()
	case <-s.runCtx.Done():
		msg.Nak()
	}
}

func (s *Server) handleQuery(msg *nats.Msg) {
	// Subject: <namespace>.wf.query.<workflow_id>.<query name>
	tokens := strings.SplitN(msg.Subject, ".", 5)
	if len(tokens) < 5 {
		s.respondQuery(msg, QueryResponse{Error: "malformed query subject"})
		return
	}
	workflowID, name := tokens[3], tokens[4]

	s.mu.Lock()
	inst, ok := s.instances[workflowID]
	s.mu.Unlock()
	if !ok {
		s.respondQuery(msg, QueryResponse{Error: ErrNotFound.Error()})
		return
	}

	result, err := inst.machine.HandleQuery(name)
	if err != nil {
		s.respondQuery(msg, QueryResponse{Error: err.Error()})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.respondQuery(msg, QueryResponse{Error: fmt.Sprintf("marshal query result: %v", err)})
		return
	}

	s.metrics.Queries.Inc()
	s.respondQuery(msg, QueryResponse{Result: raw})
}

func (s *Server) respondQuery(msg *nats.Msg, resp QueryResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Marshal query response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("Query respond failed", "error", err)
	}
}

func (s *Server) putRecord(rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("Marshal registry record", "workflow_id", rec.WorkflowID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.kv.Put(ctx, rec.WorkflowID, data); err != nil {
		s.logger.Warn("Write registry record", "workflow_id", rec.WorkflowID, "error", err)
	}
}

func (s *Server) finishRecord(workflowID, status, result, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry, err := s.kv.Get(ctx, workflowID)
	if err != nil {
		s.logger.Warn("Read registry record", "workflow_id", workflowID, "error", err)
		return
	}

	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		s.logger.Warn("Parse registry record", "workflow_id", workflowID, "error", err)
		return
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	rec.CompletedAt = &now
	s.putRecord(&rec)
}
