package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"library_catalog/pkg/catalog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	reg := prometheus.NewRegistry()
	m, err := New(reg, reg)
	require.NoError(t, err)
	return m
}

func TestObserveOperationOutcomes(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveOperation(catalog.OpCreate, nil)
	m.ObserveOperation(catalog.OpCreate, &catalog.ValidationError{Field: "title", Message: "is required"})
	m.ObserveOperation(catalog.OpDelete, catalog.ErrNotFound)
	m.ObserveOperation(catalog.OpListAll, &catalog.StorageError{Op: catalog.OpListAll, Err: errors.New("disk I/O error")})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.storeOperations.WithLabelValues(catalog.OpCreate, OutcomeSucceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storeOperations.WithLabelValues(catalog.OpCreate, OutcomeInvalid)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storeOperations.WithLabelValues(catalog.OpDelete, OutcomeNotFound)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storeOperations.WithLabelValues(catalog.OpListAll, OutcomeFailed)))
}

func TestObserveRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveRequest(http.MethodGet, "/api/books", http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/books", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveOperation(catalog.OpSearch, nil)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `catalog_store_operations_total{operation="search",outcome="succeeded"} 1`)
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, reg)
	require.NoError(t, err)

	_, err = New(reg, reg)
	assert.Error(t, err)
}
