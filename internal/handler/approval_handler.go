package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/approval"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

type ApprovalHandler struct {
	approvals *approval.Service
	logger    *zap.Logger
}

func NewApprovalHandler(approvals *approval.Service, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		approvals: approvals,
		logger:    logger,
	}
}

type approveRequest struct {
	MilestoneID string       `json:"milestone_id"`
	Action      model.Action `json:"action"`
	Feedback    string       `json:"feedback"`
}

// Approve handles POST /milestones/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.Validation("invalid request"))
		return
	}

	res, err := h.approvals.Decide(c.Request.Context(), approval.Request{
		MilestoneID: req.MilestoneID,
		Action:      req.Action,
		Actor:       a,
		Comment:     req.Feedback,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	body := gin.H{
		"milestone": res.Milestone,
		"approval":  res.Approval,
		"message":   res.Message,
	}
	if failed := util.FailedSteps(res.SideEffects); len(failed) > 0 {
		body["failed_side_effects"] = failed
	}
	c.JSON(http.StatusOK, body)
}

// ListApprovals handles GET /milestones/:id/approvals
func (h *ApprovalHandler) ListApprovals(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	approvals, err := h.approvals.ListApprovals(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if approvals == nil {
		approvals = []model.Approval{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// LatestApproval handles GET /milestones/:id/approvals/latest?actor_id=
func (h *ApprovalHandler) LatestApproval(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	approverID := c.DefaultQuery("actor_id", a.ID)
	latest, err := h.approvals.LatestApproval(c.Request.Context(), c.Param("id"), approverID, a)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval": latest})
}
