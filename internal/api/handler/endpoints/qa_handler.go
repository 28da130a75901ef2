package endpoints

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"flowstudio"
	"flowstudio/internal/api/handler/request"
	"flowstudio/internal/api/handler/response"
	"flowstudio/internal/api/service"
	"flowstudio/internal/qa"
	"flowstudio/pkg"
)

type qaHandler struct {
	qaService *service.QAService
	logger    zerolog.Logger
}

func newQAHandler() *qaHandler {
	return &qaHandler{
		qaService: service.NewQAService(),
		logger:    flowstudio.Logger,
	}
}

func QAHandler(router *graceful.Graceful) {
	registerQARoutes(router, newQAHandler())
}

func registerQARoutes(router gin.IRouter, h *qaHandler) {
	routes := router.Group("/api/v1/hackrx")
	{
		routes.POST("/run", h.run)
		routes.GET("/health", h.health)
	}
}

// run answers every question about the given document in one pass
func (slf *qaHandler) run(c *gin.Context) {
	var req request.DocumentQuestions
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid request body", Data: pkg.RequestProblems(err)})
		return
	}

	answers, err := slf.qaService.Answer(c.Request.Context(), req.Documents, req.Questions)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQANotConfigured):
			c.JSON(http.StatusServiceUnavailable, response.APIError{Message: err.Error()})
		case errors.Is(err, qa.ErrUnsupportedFormat), errors.Is(err, qa.ErrEmptyDocument):
			c.JSON(http.StatusUnprocessableEntity, response.APIError{Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, response.APIError{Message: "Processing failed", Data: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, response.DocumentAnswers{Answers: answers})
}

func (slf *qaHandler) health(c *gin.Context) {
	status := response.Healthy("hackrx-query-retrieval")
	if !slf.qaService.Ready() {
		status.Status = "degraded"
	}
	c.JSON(http.StatusOK, status)
}
