// Package handler holds the gin handlers of the progress API.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/rbac"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

// ActorKey is the gin context key the auth middleware stores the caller
// under.
const ActorKey = "actor"

// actor reads the authenticated caller, answering 401 when there is none.
func actor(c *gin.Context) (rbac.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if a, isActor := v.(rbac.Actor); ok && isActor && a.ID != "" {
		return a, true
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
	return rbac.Actor{}, false
}

// respondError writes err with the status of its kind. Unknown errors are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}

// respondMutation writes value under key plus the names of side effects that
// failed, if any.
func respondMutation(c *gin.Context, status int, key string, value any, sideEffects []util.BestEffort) {
	body := gin.H{key: value}
	if failed := util.FailedSteps(sideEffects); len(failed) > 0 {
		body["failed_side_effects"] = failed
	}
	c.JSON(status, body)
}
