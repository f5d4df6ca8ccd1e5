package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// TreeOptions controls tree induction. Zero values mean: unlimited depth,
// min 2 samples to split, min 1 sample per leaf, all features per split.
type TreeOptions struct {
	MaxDepth        int   `json:"max_depth,omitempty"`
	MinSamplesSplit int   `json:"min_samples_split,omitempty"`
	MinSamplesLeaf  int   `json:"min_samples_leaf,omitempty"`
	MaxFeatures     int   `json:"max_features,omitempty"`
	Seed            int64 `json:"seed"`
}

func (o TreeOptions) withDefaults() TreeOptions {
	if o.MinSamplesSplit < 2 {
		o.MinSamplesSplit = 2
	}
	if o.MinSamplesLeaf < 1 {
		o.MinSamplesLeaf = 1
	}
	return o
}

// DecisionTree is a CART classifier using gini impurity. Nodes are stored
// flattened: a node's left subtree follows it directly, the right subtree
// follows the left one.
type DecisionTree struct {
	Options TreeOptions `json:"options"`
	Nodes   []TreeNode  `json:"nodes"`
}

// TreeNode is one split or leaf. For classification leaves Value is the
// fraction of label 1; for boosting trees it is the leaf weight.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(opts TreeOptions) *DecisionTree {
	return &DecisionTree{Options: opts}
}

func (dt *DecisionTree) Kind() string {
	return KindDecisionTree
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	opts := dt.Options.withDefaults()
	builder := &treeBuilder{
		features: features,
		labels:   labels,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}
	dt.Nodes = builder.build(indices, 0)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := walkTree(dt.Nodes, features)
	if err != nil {
		return 0, 0, err
	}
	return labelFromProba(proba), proba, nil
}

func walkTree(nodes []TreeNode, features []float64) (float64, error) {
	if len(nodes) == 0 {
		return 0, ErrNotFitted
	}
	idx := 0
	for {
		node := nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

type treeBuilder struct {
	features [][]float64
	labels   []int
	opts     TreeOptions
	rng      *rand.Rand
}

func (b *treeBuilder) build(indices []int, depth int) []TreeNode {
	positives := countPositives(b.labels, indices)
	value := float64(positives) / float64(len(indices))
	leaf := []TreeNode{newLeaf(value)}

	if b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth {
		return leaf
	}
	if len(indices) < b.opts.MinSamplesSplit || positives == 0 || positives == len(indices) {
		return leaf
	}

	feature, threshold, ok := b.bestSplit(indices, positives)
	if !ok {
		return leaf
	}
	left, right := partition(b.features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}

	leftNodes := b.build(left, depth+1)
	rightNodes := b.build(right, depth+1)
	return joinSubtrees(TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		Value:      value,
	}, leftNodes, rightNodes)
}

func (b *treeBuilder) bestSplit(indices []int, positives int) (int, float64, bool) {
	n := len(indices)
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	width := len(b.features[0])
	maxFeatures := b.opts.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > width {
		maxFeatures = width
	}
	sorted := make([]int, n)
	visited := 0
	for _, featureIdx := range featureOrder(width, b.opts.MaxFeatures, b.rng) {
		// constant features do not count towards maxFeatures
		if visited >= maxFeatures {
			break
		}
		sortByFeature(b.features, indices, sorted, featureIdx)
		if b.features[sorted[0]][featureIdx] == b.features[sorted[n-1]][featureIdx] {
			continue
		}
		visited++

		leftN, leftPos := 0, 0
		for i := 0; i < n-1; i++ {
			leftN++
			if b.labels[sorted[i]] == 1 {
				leftPos++
			}
			current := b.features[sorted[i]][featureIdx]
			next := b.features[sorted[i+1]][featureIdx]
			if current == next {
				continue
			}
			rightN := n - leftN
			if leftN < b.opts.MinSamplesLeaf || rightN < b.opts.MinSamplesLeaf {
				continue
			}
			impurity := (float64(leftN)*gini(leftPos, leftN) + float64(rightN)*gini(positives-leftPos, rightN)) / float64(n)
			if impurity < bestImpurity {
				bestImpurity = impurity
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

func newLeaf(value float64) TreeNode {
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		IsLeaf:     true,
	}
}

func joinSubtrees(root TreeNode, leftNodes, rightNodes []TreeNode) []TreeNode {
	root.LeftChild = 1
	root.RightChild = 1 + len(leftNodes)
	root.IsLeaf = false

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes shifts child pointers of a subtree placed at offset.
func offsetNodes(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

// featureOrder returns the order features are tried in: natural order when
// every feature is considered, a random permutation when only a subset is.
func featureOrder(width, maxFeatures int, rng *rand.Rand) []int {
	if maxFeatures <= 0 || maxFeatures >= width {
		all := make([]int, width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(width)
}

func sortByFeature(features [][]float64, indices, dst []int, featureIdx int) {
	copy(dst, indices)
	sort.SliceStable(dst, func(a, b int) bool {
		return features[dst[a]][featureIdx] < features[dst[b]][featureIdx]
	})
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		return a
	}
	return m
}

func gini(positives, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(positives) / float64(n)
	return 1 - p*p - (1-p)*(1-p)
}

func countPositives(labels []int, indices []int) int {
	count := 0
	for _, i := range indices {
		if labels[i] == 1 {
			count++
		}
	}
	return count
}
