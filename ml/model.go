package ml

import "errors"

const (
	KindDecisionTree     = "decision_tree"
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
)

var (
	ErrNotFitted   = errors.New("model not trained")
	ErrUnknownKind = errors.New("unsupported model type")
)

// Classifier is a binary classifier over fixed-length feature vectors.
// Predict returns the label and the probability of label 1.
type Classifier interface {
	Kind() string
	Train(features [][]float64, labels []int) error
	Predict(features []float64) (int, float64, error)
}

func validateTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for _, row := range features {
		if len(row) != width {
			return errors.New("feature vectors have different lengths")
		}
	}
	for _, label := range labels {
		if label != 0 && label != 1 {
			return errors.New("labels must be 0 or 1")
		}
	}
	return nil
}

func labelFromProba(p float64) int {
	if p > 0.5 {
		return 1
	}
	return 0
}
