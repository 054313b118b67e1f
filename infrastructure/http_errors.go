package infrastructure

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vitovidale/video-pipeline/domain"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrInternal           = errors.New("internal_error")
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type errorMapping struct {
	err    error
	status int
}

var errorMappings = []errorMapping{
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrInvalidRequest, http.StatusBadRequest},
	{ErrServiceUnavailable, http.StatusServiceUnavailable},

	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrInvalidProcessingType, http.StatusBadRequest},
	{domain.ErrInvalidDuration, http.StatusBadRequest},
	{domain.ErrInvalidProgressPercentage, http.StatusBadRequest},
	{domain.ErrInvalidVideo, http.StatusBadRequest},
	{domain.ErrInvalidNote, http.StatusBadRequest},
	{domain.ErrMalformedJobMessage, http.StatusBadRequest},

	{domain.ErrInsufficientCredit, http.StatusPaymentRequired},

	{domain.ErrVideoNotFound, http.StatusNotFound},
	{domain.ErrMemberNotFound, http.StatusNotFound},
	{domain.ErrTransactionNotFound, http.StatusNotFound},
	{domain.ErrJobNotFound, http.StatusNotFound},
	{domain.ErrNotificationNotFound, http.StatusNotFound},

	{domain.ErrInvalidStatusTransition, http.StatusConflict},
	{domain.ErrNotCompleted, http.StatusConflict},
	{domain.ErrProcessedFileMissing, http.StatusConflict},
	{domain.ErrVideoVersionConflict, http.StatusConflict},
	{domain.ErrAlreadyAnnotated, http.StatusConflict},
	{domain.ErrDuplicateLedgerEntry, http.StatusConflict},
	{domain.ErrDuplicateJob, http.StatusConflict},

	{context.DeadlineExceeded, http.StatusServiceUnavailable},
}

// ErrorHandlingMiddleware renders the last error a handler attached with
// AbortWithError, unless the handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}
		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, errorPayload{Code: m.err.Error(), Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, errorPayload{
		Code:    ErrInternal.Error(),
		Message: "internal server error",
	}
}
