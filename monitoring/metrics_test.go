package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("/predict", http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest("/predict", http.StatusBadRequest, time.Millisecond)
	m.ObserveRequest("/predict", http.StatusBadRequest, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "4xx")))
}

func TestSetModelReplacesPrevious(t *testing.T) {
	m := NewMetrics()
	m.SetModel("Decision Tree", "decision_tree", "v1")
	m.SetModel("Random Forest", "random_forest", "v1")

	assert.Equal(t, 1, testutil.CollectAndCount(m.ModelInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelInfo.WithLabelValues("Random Forest", "random_forest", "v1")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.Predictions.WithLabelValues("ASD Positive").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `asd_predictions_total{label="ASD Positive"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
