package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/http/response"
	"github.com/coachconnect/experiments-backend/internal/platform/ctxutil"
	"github.com/coachconnect/experiments-backend/internal/services"
)

type AssignmentHandler struct {
	assignments services.AssignmentService
}

func NewAssignmentHandler(assignments services.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments}
}

type assignmentRequest struct {
	UserContext types.UserContext `json:"user_context"`
}

// fillIdentity defaults the evaluation context from the authenticated caller
// so a client can omit what the token already proves.
func fillIdentity(c *gin.Context, userCtx *types.UserContext) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd != nil {
		if userCtx.UserID == "" {
			userCtx.UserID = rd.UserID
		}
		if userCtx.SessionID == "" {
			userCtx.SessionID = rd.SessionID
		}
	}
	if userCtx.UserAgent == "" {
		userCtx.UserAgent = c.Request.UserAgent()
	}
}

// POST /api/experiments/:id/assignment
func (h *AssignmentHandler) Assign(c *gin.Context) {
	experimentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	var req assignmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
			return
		}
	}
	fillIdentity(c, &req.UserContext)

	assignment, err := h.assignments.GetAssignment(c.Request.Context(), experimentID, req.UserContext)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	// A null assignment is a normal outcome: inactive experiment, targeting
	// miss, or traffic gate. The caller falls back to its control experience.
	response.RespondOK(c, gin.H{"assignment": assignment})
}

// GET /api/assignments
func (h *AssignmentHandler) ListMine(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	assignments, err := h.assignments.ListUserAssignments(c.Request.Context(), rd.UserID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assignments": assignments})
}
