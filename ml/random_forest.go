package ml

import (
	"math"
	"math/rand"
)

// ForestOptions controls a RandomForest. MaxFeatures 0 means sqrt(width).
type ForestOptions struct {
	NumTrees    int   `json:"num_trees"`
	MaxDepth    int   `json:"max_depth,omitempty"`
	MaxFeatures int   `json:"max_features,omitempty"`
	Seed        int64 `json:"seed"`
}

// RandomForest averages the class-1 probability of bootstrapped trees.
type RandomForest struct {
	Options ForestOptions   `json:"options"`
	Trees   []*DecisionTree `json:"trees"`
}

func NewRandomForest(opts ForestOptions) *RandomForest {
	if opts.NumTrees <= 0 {
		opts.NumTrees = 100
	}
	return &RandomForest{Options: opts}
}

func (rf *RandomForest) Kind() string {
	return KindRandomForest
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	maxFeatures := rf.Options.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(len(features[0]))))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	rng := rand.New(rand.NewSource(rf.Options.Seed))
	n := len(features)
	trees := make([]*DecisionTree, 0, rf.Options.NumTrees)
	sampleX := make([][]float64, n)
	sampleY := make([]int, n)
	for t := 0; t < rf.Options.NumTrees; t++ {
		for i := 0; i < n; i++ {
			pick := rng.Intn(n)
			sampleX[i] = features[pick]
			sampleY[i] = labels[pick]
		}
		tree := NewDecisionTree(TreeOptions{
			MaxDepth:    rf.Options.MaxDepth,
			MaxFeatures: maxFeatures,
			Seed:        rng.Int63(),
		})
		if err := tree.Train(sampleX, sampleY); err != nil {
			return err
		}
		trees = append(trees, tree)
	}
	rf.Trees = trees
	return nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	if len(rf.Trees) == 0 {
		return 0, 0, ErrNotFitted
	}
	sum := 0.0
	for _, tree := range rf.Trees {
		proba, err := walkTree(tree.Nodes, features)
		if err != nil {
			return 0, 0, err
		}
		sum += proba
	}
	proba := sum / float64(len(rf.Trees))
	return labelFromProba(proba), proba, nil
}
