package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/kg-sidecar/internal/handlers"
	"github.com/yungbote/kg-sidecar/internal/platform/envutil"
)

type RouterConfig struct {
	TurnHandler *handlers.TurnHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := strings.Split(envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	if envutil.Bool("OTEL_ENABLED", false) {
		router.Use(otelgin.Middleware(envutil.Str("OTEL_SERVICE_NAME", "kg-sidecar")))
	}

	router.GET("/health/pipeline", handlers.PipelineHealth)

	turn := router.Group("/turn")
	{
		turn.POST("/commit", cfg.TurnHandler.CommitTurn)
		turn.GET("/status/:turnId", cfg.TurnHandler.GetTurnStatus)
		turn.POST("/retry", cfg.TurnHandler.RetryTurn)
	}

	router.POST("/db/clear", cfg.TurnHandler.ClearDatabase)

	return router
}
