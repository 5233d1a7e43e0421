package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/extraction"
	"github.com/biomarker-normalizer/internal/middleware"
	"github.com/biomarker-normalizer/internal/service"
)

// writeError maps err onto a status code and JSON error body
func writeError(c *gin.Context, err error) {
	if pe, ok := domain.AsPipelineError(err); ok {
		c.JSON(pe.HTTPStatus(), pe)
		return
	}

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, domain.ErrValidation, validationErr.Error(), validationErr.Field)
	case errors.Is(err, domain.ErrNotFound):
		respondError(c, http.StatusNotFound, domain.ErrResourceMissing, "Test result not found", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		respondError(c, http.StatusConflict, domain.ErrWrongState, "Test result is not in a valid state for this operation", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, domain.ErrInternalServer, "Internal server error", "")
		_ = c.Error(err)
	}
}

// writeNormalizeError answers a failed dry-run normalization with the
// failure code a submission would have reported
func writeNormalizeError(c *gin.Context, err error) {
	var code domain.FailureKind
	switch {
	case errors.Is(err, extraction.ErrNoBiomarkers):
		code = domain.FailureNoBiomarkers
	case errors.Is(err, service.ErrEmptyValidatedSet):
		code = domain.FailureEmptyValidatedSet
	case errors.Is(err, extraction.ErrMalformedPayload):
		code = domain.FailureParse
	default:
		writeError(c, err)
		return
	}
	respondError(c, http.StatusUnprocessableEntity, string(code), "Extraction content could not be normalized", err.Error())
}

func respondError(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationIDKey)))
}
