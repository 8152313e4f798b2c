package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/http/response"
	"github.com/coachconnect/experiments-backend/internal/services"
)

type ExperimentHandler struct {
	registry services.RegistryService
	stats    services.StatisticsService
}

func NewExperimentHandler(registry services.RegistryService, stats services.StatisticsService) *ExperimentHandler {
	return &ExperimentHandler{registry: registry, stats: stats}
}

// POST /api/admin/experiments
func (h *ExperimentHandler) Create(c *gin.Context) {
	var in types.Experiment
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	exp, err := h.registry.CreateExperiment(c.Request.Context(), nil, &in)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondStatus(c, http.StatusCreated, gin.H{"experiment": exp})
}

// GET /api/admin/experiments
func (h *ExperimentHandler) List(c *gin.Context) {
	var (
		exps []*types.Experiment
		err  error
	)
	if c.Query("status") == string(types.StatusActive) {
		exps, err = h.registry.ListActiveExperiments(c.Request.Context())
	} else {
		exps, err = h.registry.ListExperiments(c.Request.Context())
	}
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"experiments": exps})
}

// GET /api/admin/experiments/:id
func (h *ExperimentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	exp, err := h.registry.GetExperiment(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"experiment": exp})
}

// PATCH /api/admin/experiments/:id
func (h *ExperimentHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	var patch services.ExperimentUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	exp, err := h.registry.UpdateExperiment(c.Request.Context(), nil, id, patch)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"experiment": exp})
}

// POST /api/admin/experiments/:id/start
func (h *ExperimentHandler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	exp, err := h.registry.StartExperiment(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"experiment": exp})
}

type stopExperimentRequest struct {
	Outcome string `json:"outcome,omitempty"`
}

// POST /api/admin/experiments/:id/stop
func (h *ExperimentHandler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	var req stopExperimentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
			return
		}
	}
	exp, err := h.registry.StopExperiment(c.Request.Context(), nil, id, req.Outcome)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"experiment": exp})
}

// DELETE /api/admin/experiments/:id
func (h *ExperimentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	if err := h.registry.DeleteExperiment(c.Request.Context(), nil, id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	// Assignments and conversions outlive the experiment row only until this
	// purge lands; a failure here leaves the delete in place and surfaces so
	// the operator can retry.
	if err := h.stats.PurgeExperimentData(c.Request.Context(), nil, id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/admin/experiments/:id/results
func (h *ExperimentHandler) Results(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	results, err := h.stats.CalculateResults(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"results": results})
}

// GET /api/admin/experiments/:id/summary
func (h *ExperimentHandler) Summary(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	summary, err := h.stats.GetExperimentSummary(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summary": summary})
}
