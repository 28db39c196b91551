package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Node is one split in a partitioning tree. Leaves carry the partition size
// reached during building.
type Node struct {
	SplitFeature int     `json:"f,omitempty"`
	SplitValue   float64 `json:"v,omitempty"`
	Left         *Node   `json:"l,omitempty"`
	Right        *Node   `json:"r,omitempty"`
	Size         int     `json:"n"`
}

// Forest is an ensemble of randomized partitioning trees. Once built it is
// immutable; scoring is safe for concurrent use.
type Forest struct {
	Trees      []*Node `json:"trees"`
	SampleSize int     `json:"sample_size"`
}

// Build trains an ensemble over the given vectors. The random source is
// injected so callers can fix the seed for reproducible models.
func Build(data [][]float64, trees, sampleSize int, rng *rand.Rand) (*Forest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no training vectors")
	}
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	if sampleSize > len(data) {
		sampleSize = len(data)
	}

	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	f := &Forest{
		Trees:      make([]*Node, trees),
		SampleSize: sampleSize,
	}
	for i := 0; i < trees; i++ {
		sample := subsample(data, sampleSize, rng)
		f.Trees[i] = buildNode(sample, 0, maxDepth, rng)
	}
	return f, nil
}

// Score returns the isolation-based anomaly score for a vector, in [0,1].
// Shorter average isolation paths produce scores closer to 1.
func (f *Forest) Score(vec []float64) float64 {
	if f == nil || len(f.Trees) == 0 {
		return 0
	}

	total := 0.0
	for _, root := range f.Trees {
		total += pathLength(root, vec, 0)
	}
	avg := total / float64(len(f.Trees))

	c := expectedPathLength(f.SampleSize)
	if c <= 0 {
		return 0
	}
	return math.Pow(2, -avg/c)
}

// Threshold derives the decision cutoff from training scores so that roughly
// the configured contamination fraction of the training distribution scores
// above it.
func Threshold(trainScores []float64, contamination float64) float64 {
	if len(trainScores) == 0 {
		return 0.5
	}
	if contamination <= 0 {
		contamination = 0.1
	}
	if contamination >= 1 {
		contamination = 0.5
	}

	sorted := make([]float64, len(trainScores))
	copy(sorted, trainScores)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(len(sorted)) * (1 - contamination)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func subsample(data [][]float64, size int, rng *rand.Rand) [][]float64 {
	if len(data) <= size {
		return data
	}
	out := make([][]float64, size)
	for i := 0; i < size; i++ {
		out[i] = data[rng.Intn(len(data))]
	}
	return out
}

func buildNode(data [][]float64, depth, maxDepth int, rng *rand.Rand) *Node {
	if len(data) <= 1 || depth >= maxDepth {
		return &Node{Size: len(data)}
	}

	// Pick among features that still vary in this partition; a partition
	// that is constant in every dimension cannot be split further.
	varying := make([]int, 0, len(data[0]))
	for f := range data[0] {
		lo, hi := featureRange(data, f)
		if hi > lo {
			varying = append(varying, f)
		}
	}
	if len(varying) == 0 {
		return &Node{Size: len(data)}
	}

	featureIdx := varying[rng.Intn(len(varying))]
	lo, hi := featureRange(data, featureIdx)
	splitValue := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, sample := range data {
		if sample[featureIdx] < splitValue {
			left = append(left, sample)
		} else {
			right = append(right, sample)
		}
	}

	node := &Node{
		SplitFeature: featureIdx,
		SplitValue:   splitValue,
		Size:         len(data),
	}
	node.Left = buildNode(left, depth+1, maxDepth, rng)
	node.Right = buildNode(right, depth+1, maxDepth, rng)
	return node
}

func pathLength(node *Node, vec []float64, depth int) float64 {
	if node.Left == nil && node.Right == nil {
		return float64(depth) + expectedPathLength(node.Size)
	}
	if vec[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, vec, depth+1)
	}
	return pathLength(node.Right, vec, depth+1)
}

// expectedPathLength is the average unsuccessful-search path length in a
// binary search tree over n points.
func expectedPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + 0.5772156649
		return 2*h - 2*float64(n-1)/float64(n)
	}
}

func featureRange(data [][]float64, featureIdx int) (float64, float64) {
	lo := data[0][featureIdx]
	hi := data[0][featureIdx]
	for _, sample := range data[1:] {
		if sample[featureIdx] < lo {
			lo = sample[featureIdx]
		}
		if sample[featureIdx] > hi {
			hi = sample[featureIdx]
		}
	}
	return lo, hi
}
