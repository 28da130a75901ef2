package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flowstudio"
	"flowstudio/internal/api/models"
	"flowstudio/internal/api/repo"
	"flowstudio/internal/capability"
	"flowstudio/internal/engine"
	"flowstudio/internal/llm"
	"flowstudio/internal/realtime"
)

var (
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionInProgress = errors.New("an execution with this id is already running")
	ErrAuditDisabled       = errors.New("execution history is not configured")
	ErrInvalidExecutionID  = errors.New("execution id must be a UUID")
)

// ExecutionStore persists finished runs. *repo.ExecutionRepository
// satisfies it.
type ExecutionStore interface {
	Create(execution *models.WorkflowExecution) error
	FindByID(id string) (models.WorkflowExecution, error)
	FindRecent(limit int) ([]models.WorkflowExecution, error)
}

// Capabilities lists what a workflow can use on this server.
type Capabilities struct {
	NodeTypes []engine.NodeType       `json:"nodeTypes"`
	Tools     []capability.Capability `json:"tools"`
	Models    []string                `json:"modelProviders"`
}

type WorkflowService struct {
	engine     *engine.Engine
	tools      *capability.Registry
	models     *llm.Client
	executions ExecutionStore
	runs       sync.Map // execution id -> context.CancelFunc
	logger     zerolog.Logger
}

// NewWorkflowService wires the engine from the process configuration.
// Audit rows are only stored when Postgres is configured. Progress events
// go to NATS when it is configured and to hub otherwise; hub may be nil.
func NewWorkflowService(hub *realtime.Hub) *WorkflowService {
	cfg := flowstudio.GetConfig()
	logger := flowstudio.Logger

	opts := []engine.Option{
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithPartialResults(cfg.Engine.PartialResults),
		engine.WithNodeTimeout(cfg.Engine.NodeTimeout),
	}
	switch {
	case flowstudio.Nats != nil:
		opts = append(opts, engine.WithObserver(realtime.NewPublisher(flowstudio.Nats, cfg.Nats.TenantID, logger)))
	case hub != nil:
		opts = append(opts, engine.WithObserver(realtime.NewHubPublisher(hub, logger)))
	}

	var executions ExecutionStore
	if flowstudio.DB != nil {
		executions = repo.NewExecutionRepository()
	}

	return NewWorkflowServiceWith(
		NewCapabilityRegistry(cfg, logger),
		NewLLMClient(cfg, logger),
		executions,
		logger,
		opts...,
	)
}

// NewWorkflowServiceWith builds the service from explicit parts. executions
// may be nil.
func NewWorkflowServiceWith(tools *capability.Registry, models *llm.Client, executions ExecutionStore, logger zerolog.Logger, opts ...engine.Option) *WorkflowService {
	opts = append([]engine.Option{engine.WithLogger(logger)}, opts...)
	return &WorkflowService{
		engine:     engine.New(engine.NewDispatcher(tools, models), opts...),
		tools:      tools,
		models:     models,
		executions: executions,
		logger:     logger,
	}
}

// Execute runs a workflow to completion. executionID may be empty, in which
// case one is generated; a caller that picks its own id can cancel the run
// or follow its progress before the response arrives. Structural problems
// are returned as a *engine.GraphError and nothing is executed.
func (slf *WorkflowService) Execute(ctx context.Context, req engine.Request, executionID string) (*engine.Result, error) {
	plan, err := slf.engine.Prepare(req)
	if err != nil {
		slf.logger.Warn().Err(err).Msg("Workflow rejected")
		return nil, err
	}

	ec := engine.NewExecutionContext(plan.Graph.IDs())
	if executionID != "" {
		if _, err := uuid.Parse(executionID); err != nil {
			return nil, ErrInvalidExecutionID
		}
		ec.ID = executionID
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, loaded := slf.runs.LoadOrStore(ec.ID, cancel); loaded {
		return nil, ErrExecutionInProgress
	}
	defer slf.runs.Delete(ec.ID)

	result := slf.engine.Execute(runCtx, plan, ec)
	slf.record(result)
	return result, nil
}

// Validate is the dry run: every problem is listed and nothing is executed.
func (slf *WorkflowService) Validate(req engine.Request) engine.Report {
	return engine.ValidateRequest(req)
}

// Cancel stops an in-flight run. It reports false when no run with that id
// is active in this process.
func (slf *WorkflowService) Cancel(executionID string) bool {
	v, ok := slf.runs.Load(executionID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	slf.logger.Info().Str("executionId", executionID).Msg("Workflow execution cancelled")
	return true
}

// FindExecution returns the audit row of a finished run.
func (slf *WorkflowService) FindExecution(executionID string) (*models.WorkflowExecution, error) {
	if slf.executions == nil {
		return nil, ErrAuditDisabled
	}
	execution, err := slf.executions.FindByID(executionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExecutionNotFound
		}
		slf.logger.Error().Err(err).Str("executionId", executionID).Msg("Error getting execution")
		return nil, err
	}
	return &execution, nil
}

// RecentExecutions lists the latest finished runs.
func (slf *WorkflowService) RecentExecutions(limit int) ([]models.WorkflowExecution, error) {
	if slf.executions == nil {
		return nil, ErrAuditDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return slf.executions.FindRecent(limit)
}

func (slf *WorkflowService) Capabilities() Capabilities {
	return Capabilities{
		NodeTypes: []engine.NodeType{engine.NodeInput, engine.NodeTool, engine.NodeLLM, engine.NodeOutput},
		Tools:     slf.tools.Capabilities(),
		Models:    slf.models.Providers(),
	}
}

// Running reports how many runs are in flight.
func (slf *WorkflowService) Running() int {
	n := 0
	slf.runs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (slf *WorkflowService) record(result *engine.Result) {
	if slf.executions == nil {
		return
	}
	execution := models.NewWorkflowExecution(result)
	if err := slf.executions.Create(&execution); err != nil {
		slf.logger.Error().Err(err).Str("executionId", result.ExecutionID).Msg("Failed to store workflow execution")
	}
}
