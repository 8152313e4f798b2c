package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/http/response"
	"github.com/coachconnect/experiments-backend/internal/services"
)

type ConversionHandler struct {
	stats services.StatisticsService
}

func NewConversionHandler(stats services.StatisticsService) *ConversionHandler {
	return &ConversionHandler{stats: stats}
}

type conversionRequest struct {
	MetricName  string            `json:"metric_name"`
	Value       float64           `json:"value,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
	UserContext types.UserContext `json:"user_context"`
}

// POST /api/experiments/:id/conversions
func (h *ConversionHandler) Track(c *gin.Context) {
	experimentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_experiment_id", err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	fillIdentity(c, &req.UserContext)

	err = h.stats.TrackConversion(c.Request.Context(), nil, experimentID, req.MetricName, req.UserContext, req.Value, req.Properties)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	// Accepted covers the silent no-op outcomes too; tracking callers never
	// branch on whether the event was kept.
	response.RespondStatus(c, http.StatusAccepted, gin.H{"ok": true})
}
