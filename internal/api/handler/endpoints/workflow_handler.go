package endpoints

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"flowstudio"
	"flowstudio/internal/api/handler/request"
	"flowstudio/internal/api/handler/response"
	"flowstudio/internal/api/service"
	"flowstudio/internal/engine"
	"flowstudio/internal/realtime"
	"flowstudio/pkg"
)

type workflowHandler struct {
	workflowService *service.WorkflowService
	logger          zerolog.Logger
}

func newWorkflowHandler(hub *realtime.Hub) *workflowHandler {
	return &workflowHandler{
		workflowService: service.NewWorkflowService(hub),
		logger:          flowstudio.Logger,
	}
}

func WorkflowHandler(router *graceful.Graceful, hub *realtime.Hub) {
	registerWorkflowRoutes(router, newWorkflowHandler(hub))
}

func registerWorkflowRoutes(router gin.IRouter, h *workflowHandler) {
	routes := router.Group("/workflow")
	{
		routes.POST("/execute", h.execute)
		routes.POST("/validate", h.validate)
		routes.GET("/health", h.health)
		routes.GET("/capabilities", h.capabilities)

		// Execution history and control
		routes.GET("/executions", h.recentExecutions)
		routes.GET("/executions/:id", h.getExecution)
		routes.POST("/executions/:id/cancel", h.cancel)
	}
}

// execute runs a workflow and returns its result. Structural problems are
// rejected before any node runs.
func (slf *workflowHandler) execute(c *gin.Context) {
	var req request.ExecuteWorkflow
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid request body", Data: pkg.RequestProblems(err)})
		return
	}

	slf.logger.Info().
		Int("nodes", len(req.Nodes)).
		Int("edges", len(req.Edges)).
		Msg("Workflow execution requested")

	result, err := slf.workflowService.Execute(c.Request.Context(), req.Workflow(), req.ExecutionID)
	if err != nil {
		var gerr *engine.GraphError
		switch {
		case errors.As(err, &gerr):
			c.JSON(http.StatusBadRequest, response.APIError{Message: "Workflow validation error: " + gerr.Kind.Error(), Data: gerr.Problems})
		case errors.Is(err, service.ErrInvalidExecutionID):
			c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		case errors.Is(err, service.ErrExecutionInProgress):
			c.JSON(http.StatusConflict, response.APIError{Message: err.Error()})
		default:
			slf.logger.Error().Err(err).Msg("Workflow execution failed")
			c.JSON(http.StatusInternalServerError, response.APIError{Message: "Workflow execution failed", Data: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// validate lists every problem of a workflow without running it
func (slf *workflowHandler) validate(c *gin.Context) {
	var req request.ValidateWorkflow
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid request body", Data: pkg.RequestProblems(err)})
		return
	}

	c.JSON(http.StatusOK, response.FromReport(slf.workflowService.Validate(req.Workflow())))
}

func (slf *workflowHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, response.Healthy("workflow-executor"))
}

func (slf *workflowHandler) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, slf.workflowService.Capabilities())
}

func (slf *workflowHandler) recentExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	executions, err := slf.workflowService.RecentExecutions(limit)
	if err != nil {
		slf.executionError(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

func (slf *workflowHandler) getExecution(c *gin.Context) {
	execution, err := slf.workflowService.FindExecution(c.Param("id"))
	if err != nil {
		slf.executionError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// cancel stops a run that is still executing in this process
func (slf *workflowHandler) cancel(c *gin.Context) {
	id := c.Param("id")
	if !slf.workflowService.Cancel(id) {
		c.JSON(http.StatusNotFound, response.APIError{Message: "No running execution with this id"})
		return
	}
	c.JSON(http.StatusAccepted, response.Cancelled{ExecutionID: id, Cancelled: true})
}

func (slf *workflowHandler) executionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuditDisabled):
		c.JSON(http.StatusNotImplemented, response.APIError{Message: err.Error()})
	case errors.Is(err, service.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, response.APIError{Message: "Execution not found"})
	default:
		slf.logger.Error().Err(err).Msg("Failed to read execution history")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "Failed to retrieve executions"})
	}
}
