package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"asdscreen/config"
	"asdscreen/inference"
	"asdscreen/ml"
	"asdscreen/pipeline"
)

type fakeModel struct {
	class   int
	err     error
	doPanic bool
}

func (m *fakeModel) Kind() string { return "fake" }

func (m *fakeModel) Train([][]float64, []int) error { return nil }

func (m *fakeModel) Predict([]float64) (int, float64, error) {
	if m.doPanic {
		panic("model exploded")
	}
	return m.class, float64(m.class), m.err
}

func newTestHandler(t *testing.T, model ml.Classifier, mutate ...func(*config.HTTPConfig)) http.Handler {
	t.Helper()
	enc, err := pipeline.NewEncoders(map[string][]string{
		pipeline.FieldGender:        {"f", "m"},
		pipeline.FieldEthnicity:     {"Asian", "Black", "Hispanic", "Latino", "Middle Eastern ", "Others", "Pasifika", "South Asian", "Turkish", "White-European"},
		pipeline.FieldJaundice:      {"no", "yes"},
		pipeline.FieldAutismHistory: {"no", "yes"},
		pipeline.FieldCountry:       {"Australia", "China", "India", "United States", "Vietnam"},
		pipeline.FieldUsedAppBefore: {"no", "yes"},
		pipeline.FieldRelation:      {"Others", "Self"},
	})
	require.NoError(t, err)
	digest, err := enc.Digest()
	require.NoError(t, err)
	artifact := &ml.Artifact{
		FormatVersion:       ml.ArtifactFormatVersion,
		Kind:                "fake",
		Name:                "Random Forest",
		FeatureOrderVersion: pipeline.FeatureOrderVersion,
		Features:            pipeline.FeatureNames(),
		EncodersDigest:      digest,
	}
	logger := zaptest.NewLogger(t)
	svc, err := inference.New(enc, artifact, model, inference.WithLogger(logger))
	require.NoError(t, err)

	cfg := config.Default().HTTP
	for _, m := range mutate {
		m(&cfg)
	}
	return NewHandler(cfg, svc, logger)
}

func screeningBody(overrides map[string]any, drop ...string) string {
	record := map[string]any{
		"age":             "25",
		"result":          "15",
		"gender":          "m",
		"ethnicity":       "?",
		"jaundice":        "no",
		"austim":          "no",
		"contry_of_res":   "Viet Nam",
		"used_app_before": "no",
		"relation":        "Parent",
	}
	for i := 1; i <= 10; i++ {
		record["A"+strconv.Itoa(i)+"_Score"] = "1"
	}
	for k, v := range overrides {
		record[k] = v
	}
	for _, k := range drop {
		delete(record, k)
	}
	payload, _ := json.Marshal(record)
	return string(payload)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestPredictCanonicalRecord(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1})

	rr := post(t, h, screeningBody(nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, map[string]string{"prediction": "ASD Positive"}, decodeBody(t, rr))
}

func TestPredictNegativeLabel(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 0})
	rr := post(t, h, screeningBody(map[string]any{"age": 31, "result": 4.5}))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ASD Negative", decodeBody(t, rr)["prediction"])
}

func TestPredictClientErrors(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1})

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing age",
			body: screeningBody(nil, "age"),
			want: "Missing or empty value for age",
		},
		{
			name: "empty relation",
			body: screeningBody(map[string]any{"relation": ""}),
			want: "Missing or empty value for relation",
		},
		{
			name: "non numeric score",
			body: screeningBody(map[string]any{"A3_Score": "yes"}),
			want: "Invalid numeric input for A3_Score: 'yes'",
		},
		{
			name: "unknown ethnicity",
			body: screeningBody(map[string]any{"ethnicity": "Martian"}),
			want: "Input value 'Martian' for ethnicity is invalid or wasn't trained on. Must be one of " +
				"['Asian', 'Black', 'Hispanic', 'Latino', 'Middle Eastern ', 'Others', 'Pasifika', 'South Asian', 'Turkish', 'White-European']",
		},
		{
			name: "invalid json",
			body: `{"age": `,
		},
		{
			name: "array body",
			body: `[1, 2]`,
			want: "Request body must be a JSON object",
		},
		{
			name: "empty body",
			body: ``,
			want: "Request body must be a JSON object",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, h, tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeBody(t, rr)
			if tt.want == "" {
				assert.NotEmpty(t, body["error"])
				return
			}
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestPredictBodyTooLarge(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1}, func(c *config.HTTPConfig) { c.MaxBodyBytes = 16 })

	rr := post(t, h, screeningBody(nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Request body exceeds 16 bytes", decodeBody(t, rr)["error"])
}

func TestPredictModelFailure(t *testing.T) {
	h := newTestHandler(t, &fakeModel{err: errors.New("boom")})

	rr := post(t, h, screeningBody(nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "An internal server error occurred. Detail: model prediction failed: boom", decodeBody(t, rr)["error"])
}

func TestPredictPanicRecovered(t *testing.T) {
	h := newTestHandler(t, &fakeModel{doPanic: true})

	rr := post(t, h, screeningBody(nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "An internal server error occurred. Detail: model exploded", decodeBody(t, rr)["error"])
}

func TestPanicIsCountedInMetrics(t *testing.T) {
	h := newTestHandler(t, &fakeModel{doPanic: true})

	rr := post(t, h, screeningBody(nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `asd_http_requests_total{code="5xx",route="/predict"} 1`)
}

func TestTimeoutRespondsWithJSON(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	h := TimeoutMiddleware(10 * time.Millisecond)(slow)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"error": "request timeout"}, decodeBody(t, rr))
}

func TestTimeoutKeepsHandlerContentType(t *testing.T) {
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestPredictRejectsGet(t *testing.T) {
	h := newTestHandler(t, &fakeModel{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestIndexPage(t *testing.T) {
	h := newTestHandler(t, &fakeModel{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "ASD Screening")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeModel{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{
		"status":                "ok",
		"model":                 "Random Forest",
		"feature_order_version": "v1",
	}, decodeBody(t, rr))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1})
	post(t, h, screeningBody(nil))
	post(t, h, screeningBody(nil, "age"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `asd_predictions_total{label="ASD Positive"} 1`)
	assert.Contains(t, body, `asd_input_errors_total{field="age",kind="missing"} 1`)
	assert.Contains(t, body, `asd_http_requests_total{code="4xx",route="/predict"} 1`)
	assert.Contains(t, body, `asd_model_info{feature_order_version="v1",kind="fake",name="Random Forest"} 1`)
}

func TestCORS(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1})

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSAllowList(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1}, func(c *config.HTTPConfig) {
		c.AllowedOrigins = []string{"http://clinic.test"}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://clinic.test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "http://clinic.test", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://other.test")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagated(t *testing.T) {
	h := newTestHandler(t, &fakeModel{class: 1})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
}
