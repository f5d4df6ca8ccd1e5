// Package inference scores single screening records against the trained
// artifacts. A Service is built once at startup and is read-only afterwards,
// so it is safe for concurrent use by HTTP handlers.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"asdscreen/config"
	"asdscreen/db"
	"asdscreen/ml"
	"asdscreen/monitoring"
	"asdscreen/pipeline"
	"asdscreen/telemetry"
)

const (
	LabelPositive = "ASD Positive"
	LabelNegative = "ASD Negative"
)

// ErrModel wraps failures raised by the classifier itself, as opposed to
// rejected input.
var ErrModel = errors.New("model prediction failed")

// ErrEncodersMismatch means the model artifact was trained with different
// vocabularies than the loaded encoders.
var ErrEncodersMismatch = errors.New("encoders do not match model")

type Prediction struct {
	Label       string
	Class       int
	Probability float64
	Cached      bool
}

type scored struct {
	class       int
	probability float64
}

type Service struct {
	encoders *pipeline.Encoders
	model    ml.Classifier
	artifact *ml.Artifact
	cache    *lru.Cache[string, scored]
	metrics  *monitoring.Metrics
	audit    *db.Store
	logger   *zap.Logger
}

type Option func(*Service) error

// WithCache memoises predictions for up to size distinct feature vectors.
// Zero disables the cache.
func WithCache(size int) Option {
	return func(s *Service) error {
		if size <= 0 {
			return nil
		}
		cache, err := lru.New[string, scored](size)
		if err != nil {
			return fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = cache
		return nil
	}
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithAudit records every successful prediction's outcome in store.
func WithAudit(store *db.Store) Option {
	return func(s *Service) error {
		s.audit = store
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// New checks that the model was trained on the feature order this build
// assembles and on exactly these encoders, and returns a ready Service.
func New(enc *pipeline.Encoders, artifact *ml.Artifact, model ml.Classifier, opts ...Option) (*Service, error) {
	if enc == nil || artifact == nil || model == nil {
		return nil, errors.New("encoders, artifact and model are required")
	}
	if err := pipeline.CheckFeatureOrder(artifact.FeatureOrderVersion, artifact.Features); err != nil {
		return nil, fmt.Errorf("model %q: %w", artifact.Name, err)
	}
	digest, err := enc.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest encoders: %w", err)
	}
	if artifact.EncodersDigest != digest {
		return nil, fmt.Errorf("%w: model %q expects %q, got %q",
			ErrEncodersMismatch, artifact.Name, artifact.EncodersDigest, digest)
	}
	s := &Service{
		encoders: enc,
		model:    model,
		artifact: artifact,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	s.metrics.SetModel(artifact.Name, artifact.Kind, artifact.FeatureOrderVersion)
	return s, nil
}

// Load reads both artifacts from the configured directory.
func Load(cfg config.ArtifactsConfig, opts ...Option) (*Service, error) {
	enc, err := pipeline.LoadEncoders(cfg.EncodersPath())
	if err != nil {
		return nil, fmt.Errorf("load encoders: %w", err)
	}
	artifact, model, err := ml.LoadModel(cfg.ModelPath())
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return New(enc, artifact, model, opts...)
}

func (s *Service) ModelName() string {
	return s.artifact.Name
}

func (s *Service) ModelKind() string {
	return s.artifact.Kind
}

func (s *Service) FeatureOrderVersion() string {
	return s.artifact.FeatureOrderVersion
}

func (s *Service) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Predict validates raw, assembles its feature vector and scores it. Input
// problems are returned as *pipeline.FieldError; classifier failures wrap
// ErrModel.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (*Prediction, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "inference.Predict")
	defer span.End()
	start := time.Now()

	processed, err := pipeline.Preprocess(raw, s.encoders)
	if err != nil {
		var fieldErr *pipeline.FieldError
		if errors.As(err, &fieldErr) {
			s.metrics.InputErrors.WithLabelValues(fieldErr.Field, string(fieldErr.Kind)).Inc()
			span.SetAttributes(
				attribute.String("asd.invalid_field", fieldErr.Field),
				attribute.String("asd.invalid_kind", string(fieldErr.Kind)),
			)
		}
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}

	result, cached, err := s.score(processed.Vector)
	if err != nil {
		s.metrics.ModelErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "model failure")
		return nil, err
	}

	prediction := &Prediction{
		Label:       LabelFor(result.class),
		Class:       result.class,
		Probability: result.probability,
		Cached:      cached,
	}
	s.metrics.Predictions.WithLabelValues(prediction.Label).Inc()
	s.metrics.PredictLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("asd.model", s.artifact.Name),
		attribute.String("asd.prediction", prediction.Label),
		attribute.Bool("asd.cache_hit", cached),
	)
	s.record(ctx, prediction)
	return prediction, nil
}

func (s *Service) score(vector pipeline.FeatureVector) (scored, bool, error) {
	if s.cache == nil {
		return s.run(vector)
	}
	key := cacheKey(vector)
	if hit, ok := s.cache.Get(key); ok {
		s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return hit, true, nil
	}
	s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	result, _, err := s.run(vector)
	if err != nil {
		return scored{}, false, err
	}
	s.cache.Add(key, result)
	return result, false, nil
}

func (s *Service) run(vector pipeline.FeatureVector) (scored, bool, error) {
	class, proba, err := s.model.Predict(vector)
	if err != nil {
		return scored{}, false, fmt.Errorf("%w: %v", ErrModel, err)
	}
	return scored{class: class, probability: proba}, false, nil
}

func (s *Service) record(ctx context.Context, p *Prediction) {
	if s.audit == nil {
		return
	}
	err := s.audit.SavePrediction(ctx, db.PredictionRecord{
		RequestID:   RequestIDFrom(ctx),
		ModelName:   s.artifact.Name,
		Label:       p.Class,
		Probability: p.Probability,
	})
	if err != nil {
		s.logger.Warn("audit write failed", zap.Error(err))
	}
}

// LabelFor maps a class to the label returned to clients.
func LabelFor(class int) string {
	if class == 1 {
		return LabelPositive
	}
	return LabelNegative
}

func cacheKey(vector pipeline.FeatureVector) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

type requestIDKey struct{}

// WithRequestID attaches the id used to correlate logs and audit rows.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id, or "unknown" outside a request.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
