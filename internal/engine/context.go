package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// NodeState is the externally visible state of one node.
type NodeState struct {
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	BlockedBy string `json:"blockedBy,omitempty"`
}

// ExecutionContext is the mutable state of one run. Each node's output is
// written once, by the worker that ran it, before its done channel is
// closed; readers wait on that channel before reading.
type ExecutionContext struct {
	ID string

	mu      sync.RWMutex
	outputs map[string]any
	states  map[string]NodeState
	done    map[string]chan struct{}
}

func NewExecutionContext(ids []string) *ExecutionContext {
	return newExecutionContext(uuid.NewString(), ids)
}

func newExecutionContext(id string, ids []string) *ExecutionContext {
	ec := &ExecutionContext{
		ID:      id,
		outputs: make(map[string]any, len(ids)),
		states:  make(map[string]NodeState, len(ids)),
		done:    make(map[string]chan struct{}, len(ids)),
	}
	for _, nid := range ids {
		ec.states[nid] = NodeState{Status: StatusPending}
		ec.done[nid] = make(chan struct{})
	}
	return ec
}

func (slf *ExecutionContext) Status(id string) Status {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	return slf.states[id].Status
}

func (slf *ExecutionContext) State(id string) NodeState {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	return slf.states[id]
}

func (slf *ExecutionContext) Output(id string) (any, bool) {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	v, ok := slf.outputs[id]
	return v, ok
}

// setStatus moves a node to a non-terminal status.
func (slf *ExecutionContext) setStatus(id string, s Status) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	st := slf.states[id]
	if st.Status.Terminal() {
		return
	}
	st.Status = s
	slf.states[id] = st
}

// Complete records the output of a node and releases its waiters.
func (slf *ExecutionContext) Complete(id string, output any) bool {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	if slf.states[id].Status.Terminal() {
		return false
	}
	slf.outputs[id] = output
	slf.states[id] = NodeState{Status: StatusDone}
	close(slf.done[id])
	return true
}

// Fail marks a node failed. blockedBy names the failed predecessor when the
// node never ran.
func (slf *ExecutionContext) Fail(id, message, blockedBy string) bool {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	if slf.states[id].Status.Terminal() {
		return false
	}
	slf.states[id] = NodeState{Status: StatusFailed, Error: message, BlockedBy: blockedBy}
	close(slf.done[id])
	return true
}

// Wait blocks until the node reaches a terminal status or ctx ends.
func (slf *ExecutionContext) Wait(ctx context.Context, id string) (Status, error) {
	slf.mu.RLock()
	ch, ok := slf.done[id]
	slf.mu.RUnlock()
	if !ok {
		return "", ErrMalformedGraph
	}

	select {
	case <-ch:
		return slf.Status(id), nil
	default:
	}
	select {
	case <-ch:
		return slf.Status(id), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Snapshot copies outputs and states.
func (slf *ExecutionContext) Snapshot() (map[string]any, map[string]NodeState) {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	outputs := make(map[string]any, len(slf.outputs))
	for k, v := range slf.outputs {
		outputs[k] = v
	}
	states := make(map[string]NodeState, len(slf.states))
	for k, v := range slf.states {
		states[k] = v
	}
	return outputs, states
}
