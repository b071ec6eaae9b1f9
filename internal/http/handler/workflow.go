package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/dto"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/store"
)

// ActionCatalog exposes the registered action types and their config schemas.
type ActionCatalog interface {
	Types() []string
	Schema(actionType string) ([]byte, bool)
}

type WorkflowHandler struct {
	workflows service.WorkflowService
	actions   ActionCatalog
}

func NewWorkflowHandler(workflows service.WorkflowService, actions ActionCatalog) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, actions: actions}
}

func (h *WorkflowHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	wf, err := h.workflows.Create(ctx, service.CreateWorkflowParams{
		AgencyID:   req.AgencyID,
		AgentID:    req.AgentID,
		Name:       req.Name,
		Trigger:    model.Trigger(req.Trigger),
		Conditions: req.Conditions,
		Actions:    req.Actions,
		IsActive:   active,
	})
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, dto.ValidationErrorResponse{
				Error:    "invalid workflow",
				Problems: verr.Problems,
			})
			return
		}
		slog.ErrorContext(ctx, "failed to create workflow", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create workflow"})
		return
	}

	c.JSON(http.StatusCreated, dto.WorkflowResponse{
		ID:         wf.ID,
		AgencyID:   wf.AgencyID,
		AgentID:    wf.AgentID,
		Name:       wf.Name,
		Trigger:    string(wf.Trigger),
		Conditions: wf.Conditions,
		Actions:    wf.Actions,
		IsActive:   wf.IsActive,
		CreatedAt:  wf.CreatedAt,
	})
}

func (h *WorkflowHandler) ListExecutions(c *gin.Context) {
	ctx := c.Request.Context()

	logs, err := h.workflows.ListExecutions(ctx, c.Param("external_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to list executions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	resp := make([]dto.ExecutionLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, dto.ExecutionLogResponse{
			ID:               l.ID,
			WorkflowID:       l.WorkflowID,
			Trigger:          string(l.Trigger),
			Status:           string(l.Status),
			ActionsTotal:     l.ActionsTotal,
			ActionsSucceeded: l.ActionsSucceeded,
			ActionsFailed:    l.ActionsFailed,
			ActionResults:    l.ActionResults,
			ErrorSummary:     l.ErrorSummary,
			StartedAt:        l.StartedAt,
			CompletedAt:      l.CompletedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WorkflowHandler) ActionTypes(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ActionTypesResponse{Types: h.actions.Types()})
}

// ActionSchema serves the JSON Schema a dashboard can build a config form from.
func (h *WorkflowHandler) ActionSchema(c *gin.Context) {
	schema, ok := h.actions.Schema(c.Param("type"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action type"})
		return
	}
	c.Data(http.StatusOK, "application/schema+json", schema)
}
