package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/api/handler"
	"github.com/qs3c/punch_coach_server/internal/api/middleware"
)

type Router struct {
	analysisHandler  *handler.AnalysisHandler
	reportHandler    *handler.ReportHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	analysisHandler *handler.AnalysisHandler,
	reportHandler *handler.ReportHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		analysisHandler:  analysisHandler,
		reportHandler:    reportHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket，令牌走查询参数
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			analyses := authenticated.Group("/analyses")
			{
				analyses.POST("", r.analysisHandler.Start)
				analyses.GET("/:id/status", r.analysisHandler.GetStatus)
				analyses.GET("/:id/report", r.analysisHandler.GetReport)
			}

			authenticated.GET("/reports/:id", r.reportHandler.Get)
		}
	}

	return engine
}
