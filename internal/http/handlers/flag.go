package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/http/response"
	"github.com/coachconnect/experiments-backend/internal/services"
)

type FlagHandler struct {
	flags    services.FlagService
	registry services.RegistryService
}

func NewFlagHandler(flags services.FlagService, registry services.RegistryService) *FlagHandler {
	return &FlagHandler{flags: flags, registry: registry}
}

type evaluateFlagRequest struct {
	UserContext  types.UserContext `json:"user_context"`
	DefaultValue any               `json:"default_value,omitempty"`
}

// POST /api/flags/:key/evaluate
func (h *FlagHandler) Evaluate(c *gin.Context) {
	var req evaluateFlagRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
			return
		}
	}
	fillIdentity(c, &req.UserContext)

	eval := h.flags.Evaluate(c.Request.Context(), c.Param("key"), req.UserContext, req.DefaultValue)
	response.RespondOK(c, gin.H{"evaluation": eval})
}

type evaluateAllRequest struct {
	UserContext types.UserContext `json:"user_context"`
}

// POST /api/flags/evaluate
func (h *FlagHandler) EvaluateAll(c *gin.Context) {
	var req evaluateAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
			return
		}
	}
	fillIdentity(c, &req.UserContext)

	evals, err := h.flags.EvaluateAll(c.Request.Context(), req.UserContext)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"evaluations": evals})
}

// POST /api/admin/flags
func (h *FlagHandler) Create(c *gin.Context) {
	var in types.FeatureFlag
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	flag, err := h.registry.CreateFlag(c.Request.Context(), nil, &in)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondStatus(c, http.StatusCreated, gin.H{"flag": flag})
}

// GET /api/admin/flags
func (h *FlagHandler) List(c *gin.Context) {
	var (
		flags []*types.FeatureFlag
		err   error
	)
	if c.Query("active") == "true" {
		flags, err = h.registry.ListActiveFlags(c.Request.Context())
	} else {
		flags, err = h.registry.ListFlags(c.Request.Context())
	}
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"flags": flags})
}

// GET /api/admin/flags/:key
func (h *FlagHandler) Get(c *gin.Context) {
	flag, err := h.registry.GetFlag(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if flag == nil {
		response.RespondError(c, http.StatusNotFound, "flag_not_found", nil)
		return
	}
	response.RespondOK(c, gin.H{"flag": flag})
}

// PATCH /api/admin/flags/:key
func (h *FlagHandler) Update(c *gin.Context) {
	var patch services.FlagUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	flag, err := h.registry.UpdateFlag(c.Request.Context(), nil, c.Param("key"), patch)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"flag": flag})
}

type toggleFlagRequest struct {
	IsActive bool `json:"is_active"`
}

// POST /api/admin/flags/:key/toggle
func (h *FlagHandler) Toggle(c *gin.Context) {
	var req toggleFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	flag, err := h.registry.ToggleFlag(c.Request.Context(), nil, c.Param("key"), req.IsActive)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"flag": flag})
}

// DELETE /api/admin/flags/:key
func (h *FlagHandler) Delete(c *gin.Context) {
	if err := h.registry.DeleteFlag(c.Request.Context(), nil, c.Param("key")); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
