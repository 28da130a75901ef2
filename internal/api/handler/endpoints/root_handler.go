package endpoints

import (
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
)

func RootHandler(router *graceful.Graceful) {
	registerRootRoutes(router)
}

func registerRootRoutes(router gin.IRouter) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Workflow execution and document query service",
			"status":  "healthy",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
}
