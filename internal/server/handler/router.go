package handler

import (
	"github.com/gin-gonic/gin"

	"rtmpipe/internal/server/middleware"
)

// NewRouter wires every HTTP route of the server. Each webhook trigger
// of the pipeline gets its own POST route.
func NewRouter(h *RunHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", Healthz)
	r.POST("/login", UserLogin)

	seen := make(map[string]bool)
	for _, trigger := range h.pipeline.Triggers {
		if trigger.Webhook == "" || seen[trigger.Webhook] {
			continue
		}
		seen[trigger.Webhook] = true
		r.POST(trigger.Webhook, h.Webhook)
	}

	auth := r.Group("/", middleware.JWTAuthMiddleware())
	auth.GET("/history", ListRunHistory)
	auth.GET("/history/:id", GetRunHistoryDetail)
	auth.POST("/trigger", middleware.RequireExecutor(), h.TriggerRun)
	return r
}
