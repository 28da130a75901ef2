// Package engine executes workflow graphs: it decodes and validates a
// definition, orders it topologically and runs each node through the
// dispatcher, either one at a time or in ready-set batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// NodeEvent is emitted on every node status transition.
type NodeEvent struct {
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId"`
	NodeType    NodeType  `json:"nodeType"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Observer receives node transitions. With several workers it is called
// from several goroutines at once.
type Observer interface {
	NodeStatusChanged(event NodeEvent)
}

type ObserverFunc func(event NodeEvent)

func (f ObserverFunc) NodeStatusChanged(event NodeEvent) { f(event) }

// Result is the outcome of one run.
type Result struct {
	ExecutionID string               `json:"executionId"`
	Success     bool                 `json:"success"`
	Outcome     Outcome              `json:"outcome"`
	Outputs     map[string]any       `json:"result"`
	Statuses    map[string]NodeState `json:"status"`
	Order       []string             `json:"order"`
	Error       string               `json:"error,omitempty"`
	FailedNode  string               `json:"failedNode,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	FinishedAt  time.Time            `json:"finishedAt"`
}

// Plan is a validated workflow ready to run.
type Plan struct {
	Graph    *Graph
	Order    []string
	Warnings []string
}

type Engine struct {
	dispatcher  *Dispatcher
	logger      zerolog.Logger
	workers     int
	partial     bool
	nodeTimeout time.Duration
	observer    Observer
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithWorkers sets how many nodes of a ready set run at once. One worker
// runs the nodes strictly in topological order.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithPartialResults controls whether a run with failed branches still
// reports the outputs of the branches that completed.
func WithPartialResults(enabled bool) Option {
	return func(e *Engine) { e.partial = enabled }
}

func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func New(dispatcher *Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: dispatcher,
		logger:     zerolog.Nop(),
		workers:    1,
		partial:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare decodes, builds and validates req. Any structural problem is
// returned as a *GraphError listing all of them; cycles take precedence as
// the error kind.
func (slf *Engine) Prepare(req Request) (*Plan, error) {
	nodes, problems := DecodeNodes(req.Nodes)

	g, err := Build(nodes, req.Edges)
	if err != nil {
		var gerr *GraphError
		if errors.As(err, &gerr) {
			gerr.Problems = append(problems, gerr.Problems...)
		}
		return nil, err
	}

	report := Validate(g)
	if errs := append(decodeOnly(problems, nodes), report.Errors...); len(errs) > 0 {
		kind := ErrMalformedGraph
		if g.HasCycle() {
			kind = ErrCyclicGraph
		}
		return nil, &GraphError{Kind: kind, Problems: errs}
	}

	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	return &Plan{Graph: g, Order: order, Warnings: report.Warnings}, nil
}

// Run prepares and executes req with a fresh execution context.
func (slf *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	plan, err := slf.Prepare(req)
	if err != nil {
		return nil, err
	}
	return slf.Execute(ctx, plan, NewExecutionContext(plan.Graph.IDs())), nil
}

// Execute runs plan against ec. Node failures never surface as an error;
// they are reported in the result.
func (slf *Engine) Execute(ctx context.Context, plan *Plan, ec *ExecutionContext) *Result {
	started := time.Now()
	logger := slf.logger.With().Str("executionId", ec.ID).Logger()
	logger.Info().Int("nodes", plan.Graph.Len()).Int("workers", slf.workers).Msg("Workflow execution started")

	if slf.workers <= 1 {
		slf.runSequential(ctx, plan, ec)
	} else {
		slf.runBatches(ctx, plan, ec)
	}

	result := slf.summarize(ctx, plan, ec)
	result.StartedAt = started
	result.FinishedAt = time.Now()

	logger.Info().
		Str("outcome", string(result.Outcome)).
		Bool("success", result.Success).
		Dur("duration", result.FinishedAt.Sub(started)).
		Msg("Workflow execution finished")
	return result
}

func (slf *Engine) runSequential(ctx context.Context, plan *Plan, ec *ExecutionContext) {
	for _, id := range plan.Order {
		if ctx.Err() != nil {
			return
		}
		slf.runNode(ctx, plan.Graph, ec, id)
	}
}

// runBatches runs one ready set at a time. Nodes blocked by a failed
// predecessor are failed first so they never enter a batch.
func (slf *Engine) runBatches(ctx context.Context, plan *Plan, ec *ExecutionContext) {
	for ctx.Err() == nil {
		for _, id := range plan.Order {
			if ec.Status(id) != StatusPending {
				continue
			}
			for _, p := range plan.Graph.Predecessors(id) {
				if ec.Status(p) == StatusFailed {
					slf.fail(ec, plan.Graph.Node(id), upstreamMessage(p), p)
					break
				}
			}
		}

		ready := ReadySet(plan.Graph, ec)
		if len(ready) == 0 {
			return
		}
		for _, id := range ready {
			slf.transition(ec, plan.Graph.Node(id), StatusReady)
		}

		var group errgroup.Group
		group.SetLimit(slf.workers)
		for _, id := range ready {
			group.Go(func() error {
				slf.runNode(ctx, plan.Graph, ec, id)
				return nil
			})
		}
		_ = group.Wait()
	}
}

func (slf *Engine) runNode(ctx context.Context, g *Graph, ec *ExecutionContext, id string) {
	node := g.Node(id)
	preds := g.Predecessors(id)

	inputs := make([]any, 0, len(preds))
	for _, p := range preds {
		status, err := ec.Wait(ctx, p)
		if err != nil {
			return
		}
		if status == StatusFailed {
			slf.fail(ec, node, upstreamMessage(p), p)
			return
		}
		out, _ := ec.Output(p)
		inputs = append(inputs, out)
	}

	if ec.Status(id) == StatusPending {
		slf.transition(ec, node, StatusReady)
	}
	slf.transition(ec, node, StatusRunning)

	nodeCtx := ctx
	if slf.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, slf.nodeTimeout)
		defer cancel()
	}

	out, err := slf.dispatcher.Dispatch(nodeCtx, node, inputs)
	if err != nil {
		if ctx.Err() != nil {
			slf.fail(ec, node, ErrCancelled.Error(), "")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("node timed out after %s: %w", slf.nodeTimeout, err)
		}
		slf.logger.Error().Err(err).Str("executionId", ec.ID).Str("nodeId", id).Str("nodeType", string(node.Type)).Msg("Node failed")
		slf.fail(ec, node, err.Error(), "")
		return
	}

	if ec.Complete(id, out) {
		slf.logger.Debug().Str("executionId", ec.ID).Str("nodeId", id).Msg("Node completed")
		slf.notify(ec, node, NodeState{Status: StatusDone})
	}
}

func upstreamMessage(pred string) string {
	return fmt.Sprintf("skipped due to upstream failure of %s", pred)
}

func (slf *Engine) transition(ec *ExecutionContext, node *Node, s Status) {
	ec.setStatus(node.ID, s)
	slf.notify(ec, node, NodeState{Status: s})
}

func (slf *Engine) fail(ec *ExecutionContext, node *Node, message, blockedBy string) {
	if ec.Fail(node.ID, message, blockedBy) {
		slf.notify(ec, node, NodeState{Status: StatusFailed, Error: message, BlockedBy: blockedBy})
	}
}

func (slf *Engine) notify(ec *ExecutionContext, node *Node, st NodeState) {
	if slf.observer == nil {
		return
	}
	slf.observer.NodeStatusChanged(NodeEvent{
		ExecutionID: ec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      st.Status,
		Error:       st.Error,
		At:          time.Now(),
	})
}

// summarize derives the run verdict. With partial results on, a run succeeds
// while at least one target node (reachable outputs, or the sinks when the
// workflow has no output node) is done. With it off, any failure fails the
// run and no outputs are reported.
func (slf *Engine) summarize(ctx context.Context, plan *Plan, ec *ExecutionContext) *Result {
	outputs, states := ec.Snapshot()
	result := &Result{
		ExecutionID: ec.ID,
		Outputs:     outputs,
		Statuses:    states,
		Order:       plan.Order,
		Warnings:    plan.Warnings,
	}

	for _, id := range plan.Order {
		st := states[id]
		if st.Status == StatusFailed && st.BlockedBy == "" && st.Error != ErrCancelled.Error() {
			result.FailedNode = id
			result.Error = fmt.Sprintf("node %s failed: %s", id, st.Error)
			break
		}
	}

	finished := true
	for _, st := range states {
		if !st.Status.Terminal() {
			finished = false
			break
		}
	}

	switch {
	case ctx.Err() != nil && (!finished || hasCancelled(states)):
		result.Outcome = OutcomeCancelled
		result.Error = ErrCancelled.Error()
	case result.FailedNode == "":
		result.Outcome = OutcomeCompleted
		result.Success = true
	case slf.partial && targetsDone(plan.Graph, states):
		result.Outcome = OutcomePartial
		result.Success = true
	default:
		result.Outcome = OutcomeFailed
	}

	if !slf.partial && !result.Success {
		result.Outputs = map[string]any{}
	}
	return result
}

func hasCancelled(states map[string]NodeState) bool {
	for _, st := range states {
		if st.Status == StatusFailed && st.Error == ErrCancelled.Error() {
			return true
		}
	}
	return false
}

// targetsDone reports whether any node whose output the caller is waiting
// for has completed.
func targetsDone(g *Graph, states map[string]NodeState) bool {
	targets := g.NodesOfType(NodeOutput)
	if inputs := g.NodesOfType(NodeInput); len(inputs) > 0 && len(targets) > 0 {
		reachable := g.Reachable(inputs)
		var filtered []string
		for _, id := range targets {
			if reachable[id] {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) > 0 {
			targets = filtered
		}
	}
	if len(targets) == 0 {
		targets = g.Sinks()
	}
	for _, id := range targets {
		if states[id].Status == StatusDone {
			return true
		}
	}
	return false
}
