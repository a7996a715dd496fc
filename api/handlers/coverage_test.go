package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"lcmeval/internal/common"
	"lcmeval/internal/coverage"
	"lcmeval/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverageRouter(t *testing.T, handler *CoverageHandler) http.Handler {
	router := testRouter()
	router.GET("/api/v1/coverage", handler.Stats)
	router.GET("/api/v1/coverage/uncovered", handler.Uncovered)
	router.POST("/api/v1/coverage/sample", handler.Sample)
	router.POST("/api/v1/coverage/report", handler.Report)
	return router
}

func TestCoverageHandler_Stats(t *testing.T) {
	tracker := testTracker(t, 2, "numpy.add", "numpy.zeros", "numpy.pi")
	router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

	w := doRequest(router, http.MethodGet, "/api/v1/coverage", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, 2.0, response["k"])
	assert.Equal(t, 3.0, response["universe"])
	assert.Equal(t, 0.0, response["covered"])
	assert.Equal(t, 0.0, response["percent"])
}

func TestCoverageHandler_SampleDoesNotCover(t *testing.T) {
	tracker := testTracker(t, 2, "numpy.add", "numpy.zeros")
	router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

	w := doRequest(router, http.MethodPost, "/api/v1/coverage/sample", nil)

	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, []interface{}{"numpy.add", "numpy.zeros"}, response["apis"])
	details := response["details"].(map[string]interface{})
	entry := details["numpy.zeros"].(map[string]interface{})
	assert.Equal(t, "numpy.zeros", entry["api_name"])
	assert.Zero(t, tracker.Ratio())
}

func TestCoverageHandler_SampleExhausted(t *testing.T) {
	tracker := testTracker(t, 1, "numpy.add")
	router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/v1/coverage/report",
		ReportRequest{APIs: []string{"numpy.add"}}).Code)

	w := doRequest(router, http.MethodPost, "/api/v1/coverage/sample", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCoverageHandler_Report(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantRatio  float64
	}{
		{"known combination in any order", ReportRequest{APIs: []string{"numpy.zeros", "numpy.add"}}, http.StatusOK, 1.0 / 3.0},
		{"unknown api", ReportRequest{APIs: []string{"numpy.add", "numpy.unknown"}}, http.StatusNotFound, 0},
		{"wrong size", ReportRequest{APIs: []string{"numpy.add"}}, http.StatusNotFound, 0},
		{"empty list", ReportRequest{APIs: []string{}}, http.StatusBadRequest, 0},
		{"missing field", map[string]string{"other": "x"}, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := testTracker(t, 2, "numpy.add", "numpy.zeros", "numpy.pi")
			router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

			w := doRequest(router, http.MethodPost, "/api/v1/coverage/report", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.InDelta(t, tt.wantRatio, tracker.Ratio(), 1e-9)
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, decode(t, w), "error")
			}
		})
	}
}

func TestCoverageHandler_ReportPersists(t *testing.T) {
	tracker := testTracker(t, 2, "numpy.add", "numpy.zeros")
	repo := store.NewMemoryRepository()
	runID := common.NewRunID()
	router := coverageRouter(t, NewCoverageHandler(tracker, repo, runID, testLogger(t)))

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodPost, "/api/v1/coverage/report", ReportRequest{APIs: []string{"numpy.zeros", "numpy.add"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100.0, decode(t, w)["percent"])
	}

	keys, err := repo.CoveredKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy.add,numpy.zeros"}, keys)
}

func TestCoverageHandler_ReportRepeatedNameIsUnknown(t *testing.T) {
	tracker := testTracker(t, 1, "numpy.add", "numpy.zeros")
	router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

	w := doRequest(router, http.MethodPost, "/api/v1/coverage/report", ReportRequest{APIs: []string{"numpy.add", "numpy.add"}})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, tracker.Ratio())
}

func TestCoverageHandler_ReportStoreFailureLeavesUncovered(t *testing.T) {
	tracker := testTracker(t, 2, "numpy.add", "numpy.zeros")
	repo := store.NewMemoryRepository()
	repo.SetMarkError(errors.New("connection reset"))
	router := coverageRouter(t, NewCoverageHandler(tracker, repo, common.NewRunID(), testLogger(t)))

	w := doRequest(router, http.MethodPost, "/api/v1/coverage/report", ReportRequest{APIs: []string{"numpy.add", "numpy.zeros"}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, tracker.IsCovered(coverage.NewCombination("numpy.add", "numpy.zeros")))
	assert.Zero(t, tracker.Ratio())

	repo.SetMarkError(nil)
	w = doRequest(router, http.MethodPost, "/api/v1/coverage/report", ReportRequest{APIs: []string{"numpy.add", "numpy.zeros"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, tracker.Ratio())
}

func TestCoverageHandler_Uncovered(t *testing.T) {
	tracker := testTracker(t, 1, "a", "b", "c")
	router := coverageRouter(t, NewCoverageHandler(tracker, nil, "", testLogger(t)))

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/v1/coverage/report", ReportRequest{APIs: []string{"b"}}).Code)

	response := decode(t, doRequest(router, http.MethodGet, "/api/v1/coverage/uncovered?limit=1", nil))
	assert.Equal(t, 2.0, response["total"])
	assert.Equal(t, []interface{}{[]interface{}{"a"}}, response["combinations"])

	w := doRequest(router, http.MethodGet, "/api/v1/coverage/uncovered?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
