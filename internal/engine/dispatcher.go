package engine

import (
	"context"
	"fmt"

	"flowstudio/internal/capability"
	"flowstudio/internal/format"
	"flowstudio/internal/llm"
)

// Handler executes one node kind. inputs are the predecessor outputs in
// edge order.
type Handler interface {
	Execute(ctx context.Context, node *Node, inputs []any) (any, error)
}

type HandlerFunc func(ctx context.Context, node *Node, inputs []any) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, node *Node, inputs []any) (any, error) {
	return f(ctx, node, inputs)
}

// ToolInvoker is satisfied by *capability.Registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, call capability.Call) (any, error)
}

// ModelInvoker is satisfied by *llm.Client.
type ModelInvoker interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Dispatcher routes a node to the handler of its type.
type Dispatcher struct {
	handlers map[NodeType]Handler
}

// NewDispatcher registers the built-in handlers. tools or models may be nil
// when no workflow uses them; such nodes then fail.
func NewDispatcher(tools ToolInvoker, models ModelInvoker) *Dispatcher {
	d := &Dispatcher{handlers: make(map[NodeType]Handler)}
	d.Register(NodeInput, HandlerFunc(executeInput))
	d.Register(NodeOutput, HandlerFunc(executeOutput))
	d.Register(NodeTool, toolHandler{tools: tools})
	d.Register(NodeLLM, llmHandler{models: models})
	return d
}

func (d *Dispatcher) Register(t NodeType, h Handler) {
	d.handlers[t] = h
}

// Dispatch runs the node. A panic inside a handler becomes an error so a
// single node cannot take the run down.
func (d *Dispatcher) Dispatch(ctx context.Context, node *Node, inputs []any) (out any, err error) {
	h, ok := d.handlers[node.Type]
	if !ok {
		return nil, fmt.Errorf("%w: node type %q", ErrUnsupportedOperation, node.Type)
	}
	if node.Data == nil {
		return nil, fmt.Errorf("node %q has no decoded data", node.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in node %s: %v", node.ID, r)
		}
	}()
	return h.Execute(ctx, node, inputs)
}

func executeInput(_ context.Context, node *Node, _ []any) (any, error) {
	data := node.Data.(InputData)
	return data.Query, nil
}

func executeOutput(_ context.Context, _ *Node, inputs []any) (any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	return inputs[0], nil
}

type toolHandler struct {
	tools ToolInvoker
}

func (h toolHandler) Execute(ctx context.Context, node *Node, inputs []any) (any, error) {
	data := node.Data.(ToolData)
	if h.tools == nil {
		return capability.Unsupported(), nil
	}
	return h.tools.Invoke(ctx, capability.Call{
		Tool:       data.SelectedTool,
		Action:     data.Operation(),
		Connection: data.ConnectionFor(data.SelectedTool),
		APIKey:     data.ToolAPIKey,
		Inputs:     inputs,
	})
}

type llmHandler struct {
	models ModelInvoker
}

func (h llmHandler) Execute(ctx context.Context, node *Node, inputs []any) (any, error) {
	data := node.Data.(LLMData)
	if h.models == nil {
		return fmt.Sprintf("Unsupported LLM provider: %s", data.ModelProvider), nil
	}
	return h.models.Complete(ctx, llm.Request{
		Provider:     data.ModelProvider,
		Model:        data.ModelName,
		SystemPrompt: data.SystemPrompt,
		Prompt:       format.Inputs(inputs),
		APIKey:       data.APIKey,
		Temperature:  data.TemperatureOr(llm.DefaultTemperature),
		MaxTokens:    data.MaxTokens,
	})
}
