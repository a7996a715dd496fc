package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"lcmeval/internal/common"
	"lcmeval/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedGenerations(t *testing.T) (*store.MemoryRepository, common.RunID) {
	t.Helper()
	repo := store.NewMemoryRepository()
	runID := common.NewRunID()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []common.GenerationStatus{common.GenerationSucceeded, common.GenerationSucceeded, common.GenerationFailed} {
		apis := []string{"numpy.add", "numpy.zeros"}
		require.NoError(t, repo.SaveGeneration(context.Background(), &store.GenerationRecord{
			ID:             common.NewRecordID(),
			RunID:          runID,
			CombinationKey: store.CombinationKey(apis),
			APIs:           apis,
			Task:           "task",
			Status:         status,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.SaveGeneration(context.Background(), &store.GenerationRecord{
		ID:             common.NewRecordID(),
		RunID:          common.NewRunID(),
		CombinationKey: "numpy.pi",
		APIs:           []string{"numpy.pi"},
		Status:         common.GenerationSucceeded,
	}))
	return repo, runID
}

func generationsRouter(t *testing.T, repo store.Repository) http.Handler {
	handler := NewGenerationsHandler(repo, testLogger(t))
	router := testRouter()
	router.GET("/api/v1/generations", handler.List)
	router.GET("/api/v1/generations/:id", handler.Get)
	return router
}

func TestGenerationsHandler_List(t *testing.T) {
	repo, runID := seedGenerations(t)
	router := generationsRouter(t, repo)

	tests := []struct {
		name      string
		query     string
		wantCount float64
		wantTotal float64
	}{
		{"by run", "?run_id=" + string(runID), 3, 3},
		{"all runs", "", 4, 4},
		{"failed only", "?run_id=" + string(runID) + "&status=failed", 1, 3},
		{"paged", "?run_id=" + string(runID) + "&limit=2&offset=2", 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, "/api/v1/generations"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)

			response := decode(t, w)
			assert.Equal(t, tt.wantCount, response["count"])
			assert.Equal(t, tt.wantTotal, response["total"])
			assert.Len(t, response["generations"], int(tt.wantCount))
		})
	}
}

func TestGenerationsHandler_ListInvalid(t *testing.T) {
	repo, _ := seedGenerations(t)
	router := generationsRouter(t, repo)

	for _, query := range []string{"?limit=abc", "?offset=-1", "?status=pending"} {
		w := doRequest(router, http.MethodGet, "/api/v1/generations"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestGenerationsHandler_Get(t *testing.T) {
	repo, runID := seedGenerations(t)
	router := generationsRouter(t, repo)

	records, err := repo.ListGenerations(context.Background(), store.GenerationFilter{RunID: runID, Limit: 1})
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/generations/"+string(records[0].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, string(records[0].ID), response["id"])
	assert.Equal(t, "numpy.add,numpy.zeros", response["combination_key"])

	w = doRequest(router, http.MethodGet, "/api/v1/generations/"+string(common.NewID()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/generations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
