package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"library_catalog/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if cfg.Store == nil {
		store, _ := setupTestStore(t)
		cfg.Store = store
	}
	return NewRouter(cfg)
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func listTitles(t *testing.T, r http.Handler, target string) []map[string]interface{} {
	w := do(r, "GET", target, "")
	require.Equal(t, http.StatusOK, w.Code)
	var books []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &books))
	return books
}

func TestCatalogLifecycle(t *testing.T) {
	r := setupRouter(t, RouterConfig{})

	w := do(r, "POST", "/api/books", `{"title":"1984","author":"Orwell","publication_date":"1949-06-08","edition":"1st"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id, ok := created["id"].(float64)
	require.True(t, ok)

	books := listTitles(t, r, "/api/books")
	require.Len(t, books, 1)
	assert.Equal(t, id, books[0]["id"])
	assert.Equal(t, "1984", books[0]["title"])
	assert.Equal(t, float64(0), books[0]["is_borrowed"])

	w = do(r, "POST", fmt.Sprintf("/api/books/%d/checkout", int(id)), "")
	require.Equal(t, http.StatusOK, w.Code)
	books = listTitles(t, r, "/api/books")
	assert.Equal(t, float64(1), books[0]["is_borrowed"])

	w = do(r, "DELETE", fmt.Sprintf("/api/books/%d", int(id)), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, listTitles(t, r, "/api/books"))

	w = do(r, "GET", fmt.Sprintf("/api/books/%d", int(id)), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchRouteIsNotAnID(t *testing.T) {
	r := setupRouter(t, RouterConfig{})

	for _, title := range []string{"Dune", "Dune Messiah", "Foundation"} {
		body := fmt.Sprintf(`{"title":%q,"author":"A","publication_date":"1965","edition":"2nd"}`, title)
		require.Equal(t, http.StatusCreated, do(r, "POST", "/api/books", body).Code)
	}

	books := listTitles(t, r, "/api/books/search?title=Dune")
	require.Len(t, books, 2)
	assert.Equal(t, "Dune", books[0]["title"])
	assert.Equal(t, "Dune Messiah", books[1]["title"])

	assert.Len(t, listTitles(t, r, "/api/books/search"), 3)
	assert.Len(t, listTitles(t, r, "/api/books/search?edition=2n"), 0)
}

func TestRequestIDHeader(t *testing.T) {
	r := setupRouter(t, RouterConfig{})

	w := do(r, "GET", "/api/books", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest("GET", "/api/books", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestAccessLog(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := setupRouter(t, RouterConfig{Logger: log})

	do(r, "GET", "/api/books/search?title=x", "")
	do(r, "GET", "/api/books/nope", "")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "/api/books/search?title=x", entries[0].Data["path"])
	assert.Equal(t, http.StatusOK, entries[0].Data["status"])
	assert.NotEmpty(t, entries[0].Data["request_id"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
}

func TestUnknownRoute(t *testing.T) {
	r := setupRouter(t, RouterConfig{})

	w := do(r, "GET", "/api/authors", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := setupRouter(t, RouterConfig{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest("OPTIONS", "/api/books", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	r := setupRouter(t, RouterConfig{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest("GET", "/api/books", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(t, RouterConfig{Ping: func(context.Context) error { return nil }})
	w := do(r, "GET", "/manage/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"UP"`)

	r = setupRouter(t, RouterConfig{Ping: func(context.Context) error { return errors.New("sql: database is closed") }})
	w = do(r, "GET", "/manage/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"DOWN"`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, reg)
	require.NoError(t, err)
	r := setupRouter(t, RouterConfig{Metrics: m, MetricsPage: m.Handler()})

	do(r, "GET", "/api/books", "")
	do(r, "GET", "/api/books/7", "")

	w := do(r, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `catalog_http_requests_total{method="GET",route="/api/books",status="200"} 1`)
	assert.Contains(t, body, `catalog_http_requests_total{method="GET",route="/api/books/:id",status="404"} 1`)
}
