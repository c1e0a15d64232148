package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/service"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

type ProgressHandler struct {
	progress *service.ProgressService
	logger   *zap.Logger
}

func NewProgressHandler(progress *service.ProgressService, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		logger:   logger,
	}
}

// GetBookingProgress handles GET /bookings/:id/progress
func (h *ProgressHandler) GetBookingProgress(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	p, err := h.progress.GetBookingProgress(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CreateTask handles POST /tasks
func (h *ProgressHandler) CreateTask(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var in service.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, h.logger, apperr.Validation("invalid request"))
		return
	}
	res, err := h.progress.CreateTask(c.Request.Context(), a, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusCreated, "task", res.Value, res.SideEffects)
}

// UpdateTask handles PATCH /tasks/:id
func (h *ProgressHandler) UpdateTask(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var patch service.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, h.logger, apperr.Validation("invalid request"))
		return
	}
	res, err := h.progress.UpdateTask(c.Request.Context(), a, c.Param("id"), patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusOK, "task", res.Value, res.SideEffects)
}

// DeleteTask handles DELETE /tasks/:id
func (h *ProgressHandler) DeleteTask(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	res, err := h.progress.DeleteTask(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusOK, "task", res.Value, res.SideEffects)
}

// CreateMilestone handles POST /milestones
func (h *ProgressHandler) CreateMilestone(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var in service.CreateMilestoneInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, h.logger, apperr.Validation("invalid request"))
		return
	}
	res, err := h.progress.CreateMilestone(c.Request.Context(), a, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusCreated, "milestone", res.Value, res.SideEffects)
}

// UpdateMilestone handles PATCH /milestones/:id
func (h *ProgressHandler) UpdateMilestone(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var patch service.MilestonePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, h.logger, apperr.Validation("invalid request"))
		return
	}
	res, err := h.progress.UpdateMilestone(c.Request.Context(), a, c.Param("id"), patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusOK, "milestone", res.Value, res.SideEffects)
}

// DeleteMilestone handles DELETE /milestones/:id
func (h *ProgressHandler) DeleteMilestone(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	res, err := h.progress.DeleteMilestone(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMutation(c, http.StatusOK, "milestone", res.Value, res.SideEffects)
}
