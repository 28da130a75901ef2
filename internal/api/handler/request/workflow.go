package request

import "flowstudio/internal/engine"

// ExecuteWorkflow is the request for running a workflow. ExecutionID is
// optional and lets the caller cancel or follow the run while it executes.
type ExecuteWorkflow struct {
	Nodes       []engine.RawNode `json:"nodes"`
	Edges       []engine.Edge    `json:"edges"`
	ExecutionID string           `json:"executionId" validate:"omitempty,uuid"`
}

func (r ExecuteWorkflow) Workflow() engine.Request {
	return engine.Request{Nodes: r.Nodes, Edges: r.Edges}
}

// ValidateWorkflow is the request for a dry run
type ValidateWorkflow struct {
	Nodes []engine.RawNode `json:"nodes"`
	Edges []engine.Edge    `json:"edges"`
}

func (r ValidateWorkflow) Workflow() engine.Request {
	return engine.Request{Nodes: r.Nodes, Edges: r.Edges}
}

// DocumentQuestions is the request for the document QA endpoint
type DocumentQuestions struct {
	Documents string   `json:"documents" validate:"required,url"`
	Questions []string `json:"questions" validate:"required,min=1,dive,required"`
}
