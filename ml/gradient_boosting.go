package ml

import (
	"math"
)

// BoostingOptions controls GradientBoosting. Defaults follow the usual
// gradient-boosted-tree settings: 100 rounds, learning rate 0.3, depth 6,
// L2 regularization 1, min child weight 1. Every row and feature is used in
// every round, so training is deterministic without a seed.
type BoostingOptions struct {
	NumRounds      int     `json:"num_rounds"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	Lambda         float64 `json:"lambda"`
	Gamma          float64 `json:"gamma,omitempty"`
	MinChildWeight float64 `json:"min_child_weight"`
}

func (o BoostingOptions) withDefaults() BoostingOptions {
	if o.NumRounds <= 0 {
		o.NumRounds = 100
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.3
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 6
	}
	if o.Lambda <= 0 {
		o.Lambda = 1
	}
	if o.MinChildWeight <= 0 {
		o.MinChildWeight = 1
	}
	return o
}

// GradientBoosting fits regression trees to the gradient and hessian of the
// logistic loss and sums their leaf weights into a margin.
type GradientBoosting struct {
	Options    BoostingOptions `json:"options"`
	BaseMargin float64         `json:"base_margin"`
	Trees      [][]TreeNode    `json:"trees"`
}

func NewGradientBoosting(opts BoostingOptions) *GradientBoosting {
	return &GradientBoosting{Options: opts.withDefaults()}
}

func (gb *GradientBoosting) Kind() string {
	return KindGradientBoosting
}

func (gb *GradientBoosting) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	opts := gb.Options.withDefaults()
	gb.Options = opts

	n := len(features)
	mean := float64(countAll(labels)) / float64(n)
	gb.BaseMargin = logit(clamp(mean, 1e-6, 1-1e-6))

	margins := make([]float64, n)
	for i := range margins {
		margins[i] = gb.BaseMargin
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	trees := make([][]TreeNode, 0, opts.NumRounds)
	for round := 0; round < opts.NumRounds; round++ {
		for i := range features {
			p := sigmoid(margins[i])
			grad[i] = p - float64(labels[i])
			hess[i] = p * (1 - p)
		}
		builder := &boostBuilder{features: features, grad: grad, hess: hess, opts: opts}
		tree := builder.build(indices, 0)
		for i := range features {
			weight, err := walkTree(tree, features[i])
			if err != nil {
				return err
			}
			margins[i] += weight
		}
		trees = append(trees, tree)
	}
	gb.Trees = trees
	return nil
}

func (gb *GradientBoosting) Predict(features []float64) (int, float64, error) {
	if len(gb.Trees) == 0 {
		return 0, 0, ErrNotFitted
	}
	margin := gb.BaseMargin
	for _, tree := range gb.Trees {
		weight, err := walkTree(tree, features)
		if err != nil {
			return 0, 0, err
		}
		margin += weight
	}
	proba := sigmoid(margin)
	return labelFromProba(proba), proba, nil
}

type boostBuilder struct {
	features [][]float64
	grad     []float64
	hess     []float64
	opts     BoostingOptions
}

func (b *boostBuilder) build(indices []int, depth int) []TreeNode {
	g, h := b.sums(indices)
	weight := -g / (h + b.opts.Lambda) * b.opts.LearningRate
	leaf := []TreeNode{newLeaf(weight)}
	if depth >= b.opts.MaxDepth || len(indices) < 2 {
		return leaf
	}

	feature, threshold, ok := b.bestSplit(indices, g, h)
	if !ok {
		return leaf
	}
	left, right := partition(b.features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}
	return joinSubtrees(TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		Value:      weight,
	}, b.build(left, depth+1), b.build(right, depth+1))
}

func (b *boostBuilder) sums(indices []int) (float64, float64) {
	g, h := 0.0, 0.0
	for _, i := range indices {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

func (b *boostBuilder) score(g, h float64) float64 {
	return g * g / (h + b.opts.Lambda)
}

func (b *boostBuilder) bestSplit(indices []int, g, h float64) (int, float64, bool) {
	n := len(indices)
	parent := b.score(g, h)
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, n)
	for featureIdx := 0; featureIdx < len(b.features[0]); featureIdx++ {
		sortByFeature(b.features, indices, sorted, featureIdx)
		gl, hl := 0.0, 0.0
		for i := 0; i < n-1; i++ {
			gl += b.grad[sorted[i]]
			hl += b.hess[sorted[i]]
			current := b.features[sorted[i]][featureIdx]
			next := b.features[sorted[i+1]][featureIdx]
			if current == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.opts.MinChildWeight || hr < b.opts.MinChildWeight {
				continue
			}
			gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.opts.Gamma
			if gain > bestGain {
				bestGain = gain
				bestFeature = featureIdx
				bestThreshold = midpoint(current, next)
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func countAll(labels []int) int {
	count := 0
	for _, label := range labels {
		count += label
	}
	return count
}
