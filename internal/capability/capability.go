// Package capability routes tool node calls to the adapter that owns the
// selected tool. Adapters expose a fixed operation set and receive the node's
// stored connection credentials along with its upstream inputs.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrAdapterFailure       = errors.New("adapter failure")
	ErrUnsupportedOperation = errors.New("unsupported tool or action")
	ErrMissingCredentials   = errors.New("missing connection credentials")
)

const unsupportedMessage = "Unsupported tool or action"

// Call is everything an operation gets to see about the node being executed.
type Call struct {
	Tool       string
	Action     string
	Connection json.RawMessage
	APIKey     string
	Inputs     []any
}

type Operation func(ctx context.Context, call Call) (any, error)

// Adapter is one external system. Operation names are matched case-insensitively.
type Adapter interface {
	Name() string
	Operations() map[string]Operation
}

// Capability describes a registered tool for discovery endpoints.
type Capability struct {
	Tool    string   `json:"tool"`
	Actions []string `json:"actions"`
}

// Unsupported is the value produced for a tool/action pair nobody serves.
func Unsupported() map[string]any {
	return map[string]any{"error": unsupportedMessage}
}

// IsUnsupported reports whether v is the value returned by Unsupported.
func IsUnsupported(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) == 1 && m["error"] == unsupportedMessage
}

type Registry struct {
	adapters map[string]Adapter
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger, adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter), logger: logger}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToLower(a.Name())] = a
}

// Invoke runs the requested operation. Unknown tools and actions are not
// errors: they yield the Unsupported value so dependents still run. Errors
// returned by an operation are wrapped with ErrAdapterFailure.
func (r *Registry) Invoke(ctx context.Context, call Call) (any, error) {
	adapter, ok := r.adapters[strings.ToLower(call.Tool)]
	if !ok {
		r.logger.Warn().Str("tool", call.Tool).Str("action", call.Action).Msg("Unsupported tool requested")
		return Unsupported(), nil
	}

	op, ok := lookup(adapter.Operations(), call.Action)
	if !ok {
		r.logger.Warn().Str("tool", call.Tool).Str("action", call.Action).Msg("Unsupported action requested")
		return Unsupported(), nil
	}

	result, err := op(ctx, call)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrAdapterFailure, adapter.Name(), call.Action, err)
	}
	return result, nil
}

// Capabilities lists every registered tool with its sorted actions.
func (r *Registry) Capabilities() []Capability {
	out := make([]Capability, 0, len(r.adapters))
	for _, a := range r.adapters {
		actions := make([]string, 0)
		for name := range a.Operations() {
			actions = append(actions, name)
		}
		sort.Strings(actions)
		out = append(out, Capability{Tool: a.Name(), Actions: actions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

func lookup(ops map[string]Operation, action string) (Operation, bool) {
	if op, ok := ops[action]; ok {
		return op, true
	}
	for name, op := range ops {
		if strings.EqualFold(name, action) {
			return op, true
		}
	}
	return nil, false
}

// DecodeConnection unmarshals a node's credential bundle into T.
func DecodeConnection[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, ErrMissingCredentials
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("invalid connection credentials: %w", err)
	}
	return out, nil
}
