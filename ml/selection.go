package ml

import (
	"errors"
	"fmt"
)

// Candidate is a named model factory taking part in model selection.
type Candidate struct {
	Name string
	New  func() Classifier
}

// CandidateOptions configures the default candidate set.
type CandidateOptions struct {
	Seed     int64
	Forest   ForestOptions
	Boosting BoostingOptions
}

// DefaultCandidates returns the decision tree, random forest and gradient
// boosting candidates, in that order.
func DefaultCandidates(opts CandidateOptions) []Candidate {
	forest := opts.Forest
	forest.Seed = opts.Seed
	return []Candidate{
		{Name: "Decision Tree", New: func() Classifier {
			return NewDecisionTree(TreeOptions{Seed: opts.Seed})
		}},
		{Name: "Random Forest", New: func() Classifier {
			return NewRandomForest(forest)
		}},
		{Name: "Gradient Boosting", New: func() Classifier {
			return NewGradientBoosting(opts.Boosting)
		}},
	}
}

// CandidateScore holds the cross-validation result of one candidate.
type CandidateScore struct {
	Name  string    `json:"name"`
	Folds []float64 `json:"folds"`
	Mean  float64   `json:"mean"`
}

// Selection is the outcome of SelectBest.
type Selection struct {
	Best   Candidate
	Scores []CandidateScore
}

// BestScore returns the winning candidate's score.
func (s *Selection) BestScore() CandidateScore {
	for _, score := range s.Scores {
		if score.Name == s.Best.Name {
			return score
		}
	}
	return CandidateScore{}
}

// SelectBest cross-validates every candidate and picks the highest mean
// accuracy. Ties go to the earlier candidate.
func SelectBest(candidates []Candidate, features [][]float64, labels []int, folds int) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidates")
	}
	selection := &Selection{Scores: make([]CandidateScore, 0, len(candidates))}
	bestMean := -1.0
	for _, candidate := range candidates {
		scores, err := CrossValScore(candidate.New, features, labels, folds)
		if err != nil {
			return nil, fmt.Errorf("cross-validate %s: %w", candidate.Name, err)
		}
		mean := MeanScore(scores)
		selection.Scores = append(selection.Scores, CandidateScore{Name: candidate.Name, Folds: scores, Mean: mean})
		if mean > bestMean {
			bestMean = mean
			selection.Best = candidate
		}
	}
	return selection, nil
}
