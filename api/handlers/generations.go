package handlers

import (
	"net/http"
	"strconv"

	"lcmeval/internal/common"
	"lcmeval/internal/store"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
)

// GenerationsHandler serves stored generation records
type GenerationsHandler struct {
	repository store.Repository
	logger     *logger.Logger
}

func NewGenerationsHandler(repository store.Repository, logger *logger.Logger) *GenerationsHandler {
	return &GenerationsHandler{
		repository: repository,
		logger:     logger,
	}
}

// List handles GET /api/v1/generations?run_id=&status=&limit=&offset=
func (h *GenerationsHandler) List(c *gin.Context) {
	filter := store.GenerationFilter{RunID: common.RunID(c.Query("run_id"))}

	if raw := c.Query("status"); raw != "" {
		status := common.GenerationStatus(raw)
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		respondError(c, h.logger, err)
		return
	}

	records, err := h.repository.ListGenerations(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	total, err := h.repository.CountGenerations(c.Request.Context(), filter.RunID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generations": records,
		"count":       len(records),
		"total":       total,
	})
}

// Get handles GET /api/v1/generations/:id
func (h *GenerationsHandler) Get(c *gin.Context) {
	id, err := common.ParseRecordID(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	record, err := h.repository.GetGeneration(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.ValidationError{Field: name, Message: "must be an integer"}
	}
	return value, nil
}
