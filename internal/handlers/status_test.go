package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alimgiray/gitalizer/pkg/metrics"
)

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func setupRouter(counters map[string]Counter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewStatusHandler(counters).Register(router)
	return router
}

func TestStatusHandler(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		router := setupRouter(nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
	})

	t.Run("Stats", func(t *testing.T) {
		commits := &mockCounter{}
		commits.On("Count", mock.Anything).Return(42, nil)
		repos := &mockCounter{}
		repos.On("Count", mock.Anything).Return(3, nil)
		router := setupRouter(map[string]Counter{"commits": commits, "repositories": repos})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/stats", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]int
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, map[string]int{"commits": 42, "repositories": 3}, body)
		commits.AssertExpectations(t)
		repos.AssertExpectations(t)
	})

	t.Run("Stats failure", func(t *testing.T) {
		broken := &mockCounter{}
		broken.On("Count", mock.Anything).Return(0, errors.New("database is locked"))
		router := setupRouter(map[string]Counter{"emails": broken})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/stats", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		metrics.Tasks.WithLabelValues("repository", "ok").Inc()
		router := setupRouter(nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/metrics", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), "gitalizer_tasks_total"))
	})
}
