package handlers

import (
	"net/http"
	"strconv"

	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/coverage"
	"lcmeval/internal/store"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxUncoveredLimit = 1000

// CoverageResponse is the coverage state of the served tracker
type CoverageResponse struct {
	coverage.Stats
	Percent float64 `json:"percent"`
}

// SampleResponse is one uncovered combination with its catalog entries
type SampleResponse struct {
	APIs    []string                    `json:"apis"`
	Details map[string]catalog.APIEntry `json:"details"`
}

// ReportRequest names a combination that was exercised externally
type ReportRequest struct {
	APIs []string `json:"apis" binding:"required,min=1"`
}

// CoverageHandler exposes a tracker over HTTP. Reports are also persisted
// when a repository is configured.
type CoverageHandler struct {
	tracker    *coverage.Tracker[catalog.APIEntry]
	repository store.Repository
	runID      common.RunID
	logger     *logger.Logger
}

func NewCoverageHandler(tracker *coverage.Tracker[catalog.APIEntry], repository store.Repository, runID common.RunID, logger *logger.Logger) *CoverageHandler {
	return &CoverageHandler{
		tracker:    tracker,
		repository: repository,
		runID:      runID,
		logger:     logger,
	}
}

func (h *CoverageHandler) stats() CoverageResponse {
	stats := h.tracker.Stats()
	return CoverageResponse{Stats: stats, Percent: stats.Ratio * 100}
}

// Stats handles GET /api/v1/coverage
func (h *CoverageHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats())
}

// Sample handles POST /api/v1/coverage/sample. It answers 204 once every
// combination is covered.
func (h *CoverageHandler) Sample(c *gin.Context) {
	selection, ok := h.tracker.Sample()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, SampleResponse{
		APIs:    selection.Names(),
		Details: selection.Details,
	})
}

// Report handles POST /api/v1/coverage/report
func (h *CoverageHandler) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	combination := coverage.NewCombination(req.APIs...)
	if !h.tracker.Contains(combination) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown combination", Details: combination.String()})
		return
	}

	// Persist first so a failed write never leaves coverage the store has not seen.
	if h.repository != nil {
		key := store.CombinationKey(combination.Names())
		if err := h.repository.MarkCovered(c.Request.Context(), h.runID, key); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	if err := h.tracker.MarkCovered(combination); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Infow("Combination reported", "apis", combination.Names())
	c.JSON(http.StatusOK, h.stats())
}

// Uncovered handles GET /api/v1/coverage/uncovered?limit=
func (h *CoverageHandler) Uncovered(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxUncoveredLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	uncovered := h.tracker.Uncovered()
	total := len(uncovered)
	if len(uncovered) > limit {
		uncovered = uncovered[:limit]
	}

	combinations := make([][]string, 0, len(uncovered))
	for _, combination := range uncovered {
		combinations = append(combinations, combination.Names())
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        total,
		"combinations": combinations,
	})
}
