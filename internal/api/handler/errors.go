package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
)

// StatusFor maps an error to the HTTP status the API answers with.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindAdmission:
		var adm *domain.AdmissionError
		if !errors.As(err, &adm) {
			return http.StatusUnprocessableEntity
		}
		switch adm.Reason {
		case domain.AdmissionTooLarge:
			return http.StatusRequestEntityTooLarge
		case domain.AdmissionTypeNotAllowed:
			return http.StatusUnsupportedMediaType
		case domain.AdmissionUnauthenticated:
			return http.StatusUnauthorized
		case domain.AdmissionRateLimited:
			return http.StatusTooManyRequests
		default:
			return http.StatusUnprocessableEntity
		}
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "kind"} with its mapped status.
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.CtxError(c.Request.Context(), "Request error: %v", err)
	}
	body := gin.H{
		"error": err.Error(),
		"kind":  domain.KindOf(err),
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body["validation_id"] = verr.ValidationID
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": msg,
		"kind":  domain.KindInvalid,
	})
}
