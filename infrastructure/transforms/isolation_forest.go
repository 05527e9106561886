package transforms

import (
	"context"
	"math"
	"math/rand"
)

// maxSamplesPerTree bounds the subsample each isolation tree is grown on.
const maxSamplesPerTree = 256

const eulerGamma = 0.5772156649015329

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int
}

type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

// newIsolationForest grows nTrees isolation trees. Tree t draws from its
// own source seeded with seed+t, so the forest is reproducible.
func newIsolationForest(points [][]float64, nTrees int, seed int64) *isolationForest {
	n := len(points)
	psi := min(maxSamplesPerTree, n)
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	f := &isolationForest{trees: make([]*isoNode, nTrees), sampleSize: psi}
	for t := range f.trees {
		rng := rand.New(rand.NewSource(seed + int64(t)))
		sample := rng.Perm(n)[:psi]
		f.trees[t] = growIsoTree(points, sample, 0, maxDepth, rng)
	}
	return f
}

func growIsoTree(points [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	features := len(points[idx[0]])
	var splittable []int
	lows := make([]float64, features)
	highs := make([]float64, features)
	for j := 0; j < features; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := points[i][j]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		lows[j], highs[j] = lo, hi
		if hi > lo {
			splittable = append(splittable, j)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{size: len(idx)}
	}

	j := splittable[rng.Intn(len(splittable))]
	split := lows[j] + rng.Float64()*(highs[j]-lows[j])

	var left, right []int
	for _, i := range idx {
		if points[i][j] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		feature: j,
		split:   split,
		left:    growIsoTree(points, left, depth+1, maxDepth, rng),
		right:   growIsoTree(points, right, depth+1, maxDepth, rng),
	}
}

// pathLength is the depth at which p is isolated, adjusted at leaves by the
// expected depth of the points that remained there.
func (n *isoNode) pathLength(p []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	if p[n.feature] < n.split {
		return n.left.pathLength(p, depth+1)
	}
	return n.right.pathLength(p, depth+1)
}

// scores returns the anomaly score in (0, 1] of every point. Higher is
// more anomalous.
func (f *isolationForest) scores(ctx context.Context, points [][]float64) []float64 {
	norm := averagePathLength(f.sampleSize)
	out := make([]float64, len(points))
	for i, p := range points {
		if ctx.Err() != nil {
			return out
		}
		total := 0.0
		for _, t := range f.trees {
			total += t.pathLength(p, 0)
		}
		out[i] = math.Pow(2, -(total/float64(len(f.trees)))/norm)
	}
	return out
}

// averagePathLength is the average path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
