package ml

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StratifiedKFold splits row indices into k test folds that keep the class
// ratio of labels. Within a class, the j-th row goes to fold j mod k, so the
// assignment is deterministic.
func StratifiedKFold(labels []int, k int) ([][]int, error) {
	if k < 2 {
		return nil, errors.New("k must be at least 2")
	}
	if len(labels) < k {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", len(labels), k)
	}
	byClass := map[int][]int{}
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	folds := make([][]int, k)
	offset := 0
	for _, class := range classes {
		for j, idx := range byClass[class] {
			fold := (j + offset) % k
			folds[fold] = append(folds[fold], idx)
		}
		offset += len(byClass[class])
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds, nil
}

// CrossValScore trains a fresh model per fold and returns the test-fold
// accuracies.
func CrossValScore(newModel func() Classifier, features [][]float64, labels []int, k int) ([]float64, error) {
	if err := validateTrainingSet(features, labels); err != nil {
		return nil, err
	}
	folds, err := StratifiedKFold(labels, k)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, 0, k)
	inTest := make([]bool, len(features))
	for f, testIdx := range folds {
		for i := range inTest {
			inTest[i] = false
		}
		for _, i := range testIdx {
			inTest[i] = true
		}
		trainX := make([][]float64, 0, len(features)-len(testIdx))
		trainY := make([]int, 0, len(features)-len(testIdx))
		testX := make([][]float64, 0, len(testIdx))
		testY := make([]int, 0, len(testIdx))
		for i := range features {
			if inTest[i] {
				testX = append(testX, features[i])
				testY = append(testY, labels[i])
			} else {
				trainX = append(trainX, features[i])
				trainY = append(trainY, labels[i])
			}
		}

		model := newModel()
		if err := model.Train(trainX, trainY); err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		metrics, err := Evaluate(model, testX, testY)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		scores = append(scores, metrics.Accuracy)
	}
	return scores, nil
}

// MeanScore averages fold scores.
func MeanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	return stat.Mean(scores, nil)
}

// Metrics summarises binary predictions with label 1 as the positive class.
type Metrics struct {
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
}

func Evaluate(model Classifier, testX [][]float64, testY []int) (Metrics, error) {
	var m Metrics
	if len(testX) == 0 {
		return m, nil
	}
	if len(testX) != len(testY) {
		return m, errors.New("features and labels size mismatch")
	}
	for i, feature := range testX {
		label, _, err := model.Predict(feature)
		if err != nil {
			return m, err
		}
		switch {
		case label == 1 && testY[i] == 1:
			m.TruePositives++
		case label == 1:
			m.FalsePositives++
		case testY[i] == 1:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(len(testX))
	if predicted := m.TruePositives + m.FalsePositives; predicted > 0 {
		m.Precision = float64(m.TruePositives) / float64(predicted)
	}
	if actual := m.TruePositives + m.FalseNegatives; actual > 0 {
		m.Recall = float64(m.TruePositives) / float64(actual)
	}
	return m, nil
}
