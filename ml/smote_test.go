package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imbalanced() ([][]float64, []int) {
	features := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1}, {0.5, 0.5}, {0.2, 0.8}, {0.8, 0.2}, {0.3, 0.3},
		{5, 5}, {5, 6}, {6, 5},
	}
	labels := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1}
	return features, labels
}

func TestSMOTEBalancesClasses(t *testing.T) {
	features, labels := imbalanced()
	outX, outY, err := SMOTE(features, labels, 5, 42)
	require.NoError(t, err)
	require.Len(t, outX, 16)
	require.Len(t, outY, 16)

	counts := map[int]int{}
	for _, label := range outY {
		counts[label]++
	}
	assert.Equal(t, 8, counts[0])
	assert.Equal(t, 8, counts[1])

	// originals come first and are untouched
	assert.Equal(t, features, outX[:len(features)])
	assert.Equal(t, labels, outY[:len(labels)])

	// synthetic minority samples stay inside the minority bounding box
	for _, x := range outX[len(features):] {
		assert.GreaterOrEqual(t, x[0], 5.0)
		assert.LessOrEqual(t, x[0], 6.0)
		assert.GreaterOrEqual(t, x[1], 5.0)
		assert.LessOrEqual(t, x[1], 6.0)
	}
}

func TestSMOTEDeterministic(t *testing.T) {
	features, labels := imbalanced()
	a, _, err := SMOTE(features, labels, 5, 42)
	require.NoError(t, err)
	b, _, err := SMOTE(features, labels, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, _, err := SMOTE(features, labels, 5, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSMOTEBalancedInputUnchanged(t *testing.T) {
	features, labels := separable(4)
	outX, outY, err := SMOTE(features, labels, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, features, outX)
	assert.Equal(t, labels, outY)
}

func TestSMOTESingleMinoritySample(t *testing.T) {
	_, _, err := SMOTE([][]float64{{0}, {1}, {2}}, []int{0, 0, 1}, 5, 1)
	assert.Error(t, err)
}

func TestNearestNeighbours(t *testing.T) {
	features := [][]float64{{0}, {10}, {1}, {3}}
	nn := nearestNeighbours(features, []int{0, 2, 3}, 1)
	assert.Equal(t, [][]int{{2}, {0}, {2}}, nn)
}
