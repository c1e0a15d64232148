package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AbuAli85/business-services-hub-sub011/internal/handler"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/trace"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

// AuthMiddleware resolves the caller from a bearer token.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.ActorKey, rbac.Actor{
			ID:   claims.Subject,
			Role: rbac.Role(claims.Role),
			Name: claims.Name,
		})
		c.Next()
	}
}

// RequirePermission rejects callers whose role lacks permission. Booking
// party checks happen in the services.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(handler.ActorKey)
		a, ok := v.(rbac.Actor)
		if !exists || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		if !rbac.HasPermission(a.Role, permission) {
			err := &rbac.PermissionDeniedError{UserID: a.ID, Permission: permission}
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}

// TraceMiddleware carries the X-Trace-ID header into the request context and
// echoes it back.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName); id != "" {
			ctx = trace.WithContext(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, id)
		c.Next()
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
