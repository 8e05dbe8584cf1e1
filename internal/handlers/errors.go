package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"facesync/internal/gallery"
	"facesync/internal/middleware"
	"facesync/internal/models"
	"facesync/internal/repository"
)

type errorBody struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// classify maps a pipeline error to its HTTP status and machine code.
func classify(err error) (int, string) {
	var serviceErr *models.ServiceError
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, models.ErrAuth):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, models.ErrNetwork):
		return http.StatusServiceUnavailable, "network_unavailable"
	case errors.As(err, &serviceErr), errors.Is(err, models.ErrServer):
		return http.StatusBadGateway, "processing_rejected"
	case errors.Is(err, repository.ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found"
	case errors.Is(err, models.ErrWrite):
		return http.StatusInternalServerError, "records_not_saved"
	case errors.Is(err, models.ErrRead), errors.Is(err, gallery.ErrViewUnbound):
		return http.StatusServiceUnavailable, "gallery_read_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// message is what the caller gets to see: the service's own words for a
// rejection, the error text otherwise.
func message(err error) string {
	var serviceErr *models.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Message != "" {
		return serviceErr.Message
	}
	if _, code := classify(err); code == "internal_error" {
		return "unexpected failure"
	}
	return err.Error()
}

func describe(err error) errorBody {
	_, code := classify(err)
	return errorBody{Code: code, Message: message(err), Retryable: models.Retryable(err)}
}

func (h HandlerSet) respondError(c *gin.Context, err error) {
	status, _ := classify(err)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).
		Str("user_id", middleware.UserID(c)).
		Str("request_id", middleware.RequestIDFrom(c)).
		Msg("request failed")

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, describe(err))
}
