package handlers

import (
	"errors"
	"net/http"

	"lcmeval/internal/common"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var (
		validation common.ValidationError
		notFound   common.NotFoundError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: validation.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Details: notFound.Error()})
	default:
		log.Errorw("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
