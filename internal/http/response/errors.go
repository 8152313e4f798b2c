package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

// RespondDomainError maps an engine error onto the HTTP surface. Codes the
// taxonomy does not know collapse to a 500 so internals never leak through
// the envelope.
func RespondDomainError(c *gin.Context, err error) {
	code := types.CodeOf(err)
	switch code {
	case types.CodeExperimentNotFound, types.CodeVariantNotFound:
		RespondError(c, http.StatusNotFound, string(code), err)
	case types.CodeInvalidConfig:
		RespondError(c, http.StatusBadRequest, string(code), err)
	case types.CodeStatisticalError:
		RespondError(c, http.StatusUnprocessableEntity, string(code), err)
	case types.CodeAssignmentError:
		RespondError(c, http.StatusInternalServerError, string(code), err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
