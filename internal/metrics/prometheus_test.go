package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordCacheHit()
	a.RecordCacheHit()
	b.RecordCacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.cacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.cacheMisses))
}

func TestMetrics_RecordQuery(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery("Author", "query", nil, time.Millisecond, 25)
	m.RecordQuery("Author", "query", errors.New("boom"), time.Millisecond, 0)
	m.RecordQuery("Author", "count", nil, time.Millisecond, 500)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("Author", "query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("Author", "query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("Author", "count", "ok")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite("Book", "save", time.Millisecond)
	m.UpdateSchemaStats(2, 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `entitydb_store_writes_total{entity="Book",operation="save"} 1`)
	assert.Contains(t, body, "entitydb_schema_indexes 5")
}
