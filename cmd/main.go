package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"flowstudio"
	"flowstudio/internal/api/handler/endpoints"
	"flowstudio/internal/api/repo"
	"flowstudio/internal/realtime"
)

func main() {
	flowstudio.InitConfig(".env")
	gin.SetMode(gin.ReleaseMode)

	if flowstudio.GetConfig().Mode == "dev" {
		if flowstudio.DB != nil {
			if err := repo.NewExecutionRepository().Migrate(); err != nil {
				flowstudio.Logger.Fatal().Err(err).Msg("Failed to migrate database")
			}
			flowstudio.Logger.Info().Msg("Database migrated successfully")
		}
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	router, err := graceful.Default(graceful.WithAddr(flowstudio.GetConfig().ApiPort))
	if err != nil {
		panic(err)
	}
	defer stop()
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	var hub *realtime.Hub
	if flowstudio.Nats == nil {
		hub = realtime.NewHub(flowstudio.Logger)
		go hub.Run(ctx)
		flowstudio.Logger.Info().Msg("WebSocket hub started")
	}

	initAPI(router, hub)

	flowstudio.Logger.Debug().Msgf("Starting workflow API on port %s", flowstudio.GetConfig().ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		flowstudio.Logger.Fatal().Msg(err.Error())
	}

	if flowstudio.Nats != nil {
		_ = flowstudio.Nats.Drain()
	}
}

func initAPI(router *graceful.Graceful, hub *realtime.Hub) {
	endpoints.RootHandler(router)
	endpoints.WorkflowHandler(router, hub)
	endpoints.QAHandler(router)
	if hub != nil {
		endpoints.WebSocketHandler(router, hub)
	}
}
