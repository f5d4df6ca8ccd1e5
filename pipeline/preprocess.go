package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldErrorKind classifies client-side validation failures.
type FieldErrorKind string

const (
	KindMissing         FieldErrorKind = "missing"
	KindNotNumeric      FieldErrorKind = "not_numeric"
	KindUnknownCategory FieldErrorKind = "unknown_category"
)

// FieldError reports the first field of a record that failed validation.
type FieldError struct {
	Field   string
	Kind    FieldErrorKind
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

func missingField(field string) *FieldError {
	return &FieldError{
		Field:   field,
		Kind:    KindMissing,
		Message: fmt.Sprintf("Missing or empty value for %s", field),
	}
}

// Processed is a validated record: its feature vector plus the canonical form
// of every categorical value.
type Processed struct {
	Vector    FeatureVector
	Canonical map[string]string
}

// Preprocess validates a raw request record and assembles its feature vector
// in FeatureOrder. Validation stops at the first failing field: numeric
// fields are checked before any categorical value is encoded.
func Preprocess(raw map[string]any, enc *Encoders) (*Processed, error) {
	vector := make(FeatureVector, len(FeatureOrder))

	for _, field := range NumericFields {
		value, err := numericValue(field, raw[field])
		if err != nil {
			return nil, err
		}
		if field == FieldAge {
			value = truncateAge(value)
		}
		idx, _ := FeatureIndex(field)
		vector[idx] = value
	}

	canonical := make(map[string]string, len(CategoricalFields))
	for _, field := range CategoricalFields {
		value, present := raw[field]
		if isEmpty(value, present) {
			return nil, missingField(field)
		}
		vocab, ok := enc.Vocabulary(field)
		if !ok {
			return nil, fmt.Errorf("no encoder for %s", field)
		}
		str, isString := value.(string)
		if !isString {
			return nil, unknownCategory(field, fmt.Sprint(value), vocab)
		}
		resolved := Canonicalize(field, str)
		code, known := vocab.Code(resolved)
		if !known {
			return nil, unknownCategory(field, str, vocab)
		}
		canonical[field] = resolved
		idx, _ := FeatureIndex(field)
		vector[idx] = float64(code)
	}

	return &Processed{Vector: vector, Canonical: canonical}, nil
}

func unknownCategory(field, raw string, vocab *Vocabulary) *FieldError {
	return &FieldError{
		Field: field,
		Kind:  KindUnknownCategory,
		Message: fmt.Sprintf("Input value '%s' for %s is invalid or wasn't trained on. Must be one of %s",
			raw, field, vocab.describe()),
	}
}

func isEmpty(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

func numericValue(field string, value any) (float64, error) {
	present := value != nil
	if isEmpty(value, present) {
		return 0, missingField(field)
	}
	var (
		parsed float64
		err    error
	)
	switch v := value.(type) {
	case float64:
		parsed = v
	case int:
		parsed = float64(v)
	case json.Number:
		parsed, err = strconv.ParseFloat(v.String(), 64)
	case string:
		parsed, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		err = fmt.Errorf("unsupported type %T", value)
	}
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, &FieldError{
			Field:   field,
			Kind:    KindNotNumeric,
			Message: fmt.Sprintf("Invalid numeric input for %s: '%v'", field, value),
		}
	}
	return parsed, nil
}

// EncodeRows turns canonicalized training rows into a feature matrix and
// label slice using the same layout as Preprocess.
func EncodeRows(rows []Row, enc *Encoders) ([][]float64, []int, error) {
	features := make([][]float64, len(rows))
	labels := make([]int, len(rows))
	for i, row := range rows {
		vector := make([]float64, len(FeatureOrder))
		for _, field := range NumericFields {
			idx, _ := FeatureIndex(field)
			vector[idx] = row.Numeric[field]
		}
		for _, field := range CategoricalFields {
			code, err := enc.Encode(field, row.Categorical[field])
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i, err)
			}
			idx, _ := FeatureIndex(field)
			vector[idx] = float64(code)
		}
		features[i] = vector
		labels[i] = row.Label
	}
	return features, labels, nil
}
