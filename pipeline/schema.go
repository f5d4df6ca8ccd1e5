// Package pipeline holds the preprocessing contract shared by the trainer and
// the inference service: field names, canonicalization rules, category
// vocabularies and the fixed feature order.
package pipeline

import (
	"errors"
	"fmt"
	"math"
)

// FeatureOrderVersion identifies FeatureOrder. Bump it whenever FeatureOrder
// changes so stale model artifacts are refused at load.
const FeatureOrderVersion = "v1"

const (
	FieldAge           = "age"
	FieldGender        = "gender"
	FieldEthnicity     = "ethnicity"
	FieldJaundice      = "jaundice"
	FieldAutismHistory = "austim"
	FieldCountry       = "contry_of_res"
	FieldUsedAppBefore = "used_app_before"
	FieldResult        = "result"
	FieldRelation      = "relation"

	// training-only columns
	ColumnID      = "ID"
	ColumnAgeDesc = "age_desc"
	ColumnTarget  = "Class/ASD"
)

// ErrFeatureOrderMismatch is returned when an artifact was produced for a
// different feature layout.
var ErrFeatureOrderMismatch = errors.New("feature order mismatch")

// FeatureOrder is the positional layout the classifier is trained on.
var FeatureOrder = []string{
	"A1_Score", "A2_Score", "A3_Score", "A4_Score", "A5_Score",
	"A6_Score", "A7_Score", "A8_Score", "A9_Score", "A10_Score",
	FieldAge,
	FieldGender, FieldEthnicity, FieldJaundice, FieldAutismHistory, FieldCountry,
	FieldUsedAppBefore,
	FieldResult,
	FieldRelation,
}

// NumericFields is the validation scan order for numeric fields.
var NumericFields = []string{
	"A1_Score", "A2_Score", "A3_Score", "A4_Score", "A5_Score",
	"A6_Score", "A7_Score", "A8_Score", "A9_Score", "A10_Score",
	FieldAge, FieldResult,
}

// CategoricalFields is the validation scan order for categorical fields.
var CategoricalFields = []string{
	FieldGender, FieldEthnicity, FieldJaundice, FieldAutismHistory,
	FieldCountry, FieldUsedAppBefore, FieldRelation,
}

var featureIndex = func() map[string]int {
	index := make(map[string]int, len(FeatureOrder))
	for i, name := range FeatureOrder {
		index[name] = i
	}
	return index
}()

// FeatureVector is one encoded Screening Record in FeatureOrder.
type FeatureVector []float64

// FeatureNames returns a copy of FeatureOrder.
func FeatureNames() []string {
	return append([]string(nil), FeatureOrder...)
}

// FeatureIndex returns the position of name in FeatureOrder.
func FeatureIndex(name string) (int, bool) {
	idx, ok := featureIndex[name]
	return idx, ok
}

// IsCategorical reports whether field is encoded through a vocabulary.
func IsCategorical(field string) bool {
	for _, name := range CategoricalFields {
		if name == field {
			return true
		}
	}
	return false
}

// CheckFeatureOrder verifies that names and version describe FeatureOrder.
func CheckFeatureOrder(version string, names []string) error {
	if version != FeatureOrderVersion {
		return fmt.Errorf("%w: artifact version %q, expected %q", ErrFeatureOrderMismatch, version, FeatureOrderVersion)
	}
	if len(names) != len(FeatureOrder) {
		return fmt.Errorf("%w: artifact has %d features, expected %d", ErrFeatureOrderMismatch, len(names), len(FeatureOrder))
	}
	for i, name := range names {
		if name != FeatureOrder[i] {
			return fmt.Errorf("%w: position %d is %q, expected %q", ErrFeatureOrderMismatch, i, name, FeatureOrder[i])
		}
	}
	return nil
}

// truncateAge drops the fractional part of age toward zero. Magnitudes past
// the int64 range are kept as is.
func truncateAge(v float64) float64 {
	return math.Trunc(v)
}
