package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AbuAli85/business-services-hub-sub011/internal/handler"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

// Handlers groups the route targets. Admin is optional.
type Handlers struct {
	Approval *handler.ApprovalHandler
	Progress *handler.ProgressHandler
	Admin    *handler.AdminHandler
}

// ReadyFunc reports whether backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

func NewRouter(h Handlers, jwtSecret string, ready ReadyFunc) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/bookings/:id/progress", h.Progress.GetBookingProgress)

		auth.POST("/milestones", h.Progress.CreateMilestone)
		auth.PATCH("/milestones/:id", h.Progress.UpdateMilestone)
		auth.DELETE("/milestones/:id", h.Progress.DeleteMilestone)
		auth.POST("/milestones/approve", h.Approval.Approve)
		auth.GET("/milestones/:id/approvals", h.Approval.ListApprovals)
		auth.GET("/milestones/:id/approvals/latest", h.Approval.LatestApproval)

		auth.POST("/tasks", h.Progress.CreateTask)
		auth.PATCH("/tasks/:id", h.Progress.UpdateTask)
		auth.DELETE("/tasks/:id", h.Progress.DeleteTask)
	}

	if h.Admin != nil {
		admin := auth.Group("/admin")
		admin.Use(RequirePermission(rbac.PermissionReplayOutbox))
		admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

// Server returns an http.Server for addr so callers can shut it down
// gracefully.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
