package ml

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE oversamples every minority class up to the majority count by
// interpolating between a random minority sample and one of its k nearest
// minority neighbours. The input rows are returned first, followed by the
// synthetic ones; input slices are not modified.
func SMOTE(features [][]float64, labels []int, k int, seed int64) ([][]float64, []int, error) {
	if err := validateTrainingSet(features, labels); err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		k = 5
	}

	byClass := map[int][]int{}
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	majority := 0
	for class, members := range byClass {
		classes = append(classes, class)
		if len(members) > majority {
			majority = len(members)
		}
	}
	sort.Ints(classes)

	outX := make([][]float64, len(features), len(features)+majority)
	copy(outX, features)
	outY := append([]int(nil), labels...)

	rng := rand.New(rand.NewSource(seed))
	for _, class := range classes {
		members := byClass[class]
		need := majority - len(members)
		if need == 0 {
			continue
		}
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("smote: class %d has %d sample(s), need at least 2", class, len(members))
		}
		kk := k
		if kk > len(members)-1 {
			kk = len(members) - 1
		}
		neighbours := nearestNeighbours(features, members, kk)
		diff := make([]float64, len(features[0]))
		for s := 0; s < need; s++ {
			i := rng.Intn(len(members))
			nn := neighbours[i][rng.Intn(kk)]
			gap := rng.Float64()

			base := features[members[i]]
			floats.SubTo(diff, features[nn], base)
			synthetic := make([]float64, len(base))
			floats.AddScaledTo(synthetic, base, gap, diff)

			outX = append(outX, synthetic)
			outY = append(outY, class)
		}
	}
	return outX, outY, nil
}

// nearestNeighbours returns, for each member, the indices of its k closest
// other members by Euclidean distance. Ties keep the lower index first.
func nearestNeighbours(features [][]float64, members []int, k int) [][]int {
	result := make([][]int, len(members))
	type candidate struct {
		index    int
		distance float64
	}
	for a, i := range members {
		candidates := make([]candidate, 0, len(members)-1)
		for b, j := range members {
			if a == b {
				continue
			}
			candidates = append(candidates, candidate{index: j, distance: floats.Distance(features[i], features[j], 2)})
		}
		sort.SliceStable(candidates, func(x, y int) bool {
			return candidates[x].distance < candidates[y].distance
		})
		nn := make([]int, k)
		for c := 0; c < k; c++ {
			nn[c] = candidates[c].index
		}
		result[a] = nn
	}
	return result
}
