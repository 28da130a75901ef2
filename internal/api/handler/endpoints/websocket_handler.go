package endpoints

import (
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"flowstudio/internal/realtime"
)

// WebSocketHandler streams node progress of local runs. Clients send
// {"action":"subscribe","executionId":"..."} after connecting.
func WebSocketHandler(router *graceful.Graceful, hub *realtime.Hub) {
	registerWebSocketRoutes(router, hub)
}

func registerWebSocketRoutes(router gin.IRouter, hub *realtime.Hub) {
	router.GET("/ws", func(c *gin.Context) {
		realtime.ServeWS(hub, c.Writer, c.Request)
	})
}
