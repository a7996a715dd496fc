package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lcmeval/internal/catalog"
	"lcmeval/internal/coverage"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *logger.Logger {
	return &logger.Logger{SugaredLogger: zaptest.NewLogger(t).Sugar()}
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testTracker(t *testing.T, k int, names ...string) *coverage.Tracker[catalog.APIEntry] {
	t.Helper()
	details := make(map[string]catalog.APIEntry, len(names))
	for _, name := range names {
		details[name] = catalog.APIEntry{Name: name, Description: "doc for " + name}
	}
	seed := int64(1)
	tracker, err := coverage.NewTracker(context.Background(), names, details, coverage.Config{K: k, Seed: &seed})
	require.NoError(t, err)
	return tracker
}

func doRequest(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}
