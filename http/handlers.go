package http

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"asdscreen/inference"
	"asdscreen/pipeline"
)

//go:embed static/index.html
var indexHTML []byte

type handlers struct {
	svc    *inference.Service
	logger *zap.Logger
}

type predictResponse struct {
	Prediction string `json:"prediction"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status              string `json:"status"`
	Model               string `json:"model"`
	FeatureOrderVersion string `json:"feature_order_version"`
}

// RegisterHandlers mounts every route served for svc.
func RegisterHandlers(mux *http.ServeMux, svc *inference.Service, logger *zap.Logger) {
	h := &handlers{svc: svc, logger: logger}
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", svc.Metrics().Handler())
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:              "ok",
		Model:               h.svc.ModelName(),
		FeatureOrderVersion: h.svc.FeatureOrderVersion(),
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	record, err := decodeRecord(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prediction, err := h.svc.Predict(r.Context(), record)
	if err != nil {
		var fieldErr *pipeline.FieldError
		if errors.As(err, &fieldErr) {
			writeError(w, http.StatusBadRequest, fieldErr.Message)
			return
		}
		h.logger.Error("predict failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, internalError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{Prediction: prediction.Label})
}

// decodeRecord reads one JSON object. Numbers are kept as json.Number so
// Preprocess sees the client's literal.
func decodeRecord(body io.Reader) (map[string]any, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("Request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("Could not read request body: %v", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errors.New("Request body must be a JSON object")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("Invalid JSON: %v", err)
	}
	if decoder.More() {
		return nil, errors.New("Invalid JSON: unexpected data after the object")
	}
	record, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("Request body must be a JSON object")
	}
	return record, nil
}

func internalError(detail string) string {
	return "An internal server error occurred. Detail: " + detail
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
