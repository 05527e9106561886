package transforms

import (
	"math"
	"sort"
)

// lofEpsilon keeps local reachability density finite for duplicate points.
const lofEpsilon = 1e-10

// localOutlierFactors returns the LOF of every point using the k nearest
// neighbors, where k is capped at len(points)-1. Values well above 1 mark
// points in sparser regions than their neighbors.
func localOutlierFactors(points [][]float64, nNeighbors int) []float64 {
	n := len(points)
	k := min(nNeighbors, n-1)

	knn := make([][]neighbor, n)
	kdist := make([]float64, n)
	for i := range points {
		all := make([]neighbor, 0, n-1)
		for o := range points {
			if o != i {
				all = append(all, neighbor{row: o, dist: euclidean(points[i], points[o])})
			}
		}
		sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })
		knn[i] = all[:k]
		kdist[i] = all[k-1].dist
	}

	lrd := make([]float64, n)
	for i := range points {
		sum := 0.0
		for _, nb := range knn[i] {
			sum += math.Max(kdist[nb.row], nb.dist)
		}
		lrd[i] = 1 / (sum/float64(k) + lofEpsilon)
	}

	out := make([]float64, n)
	for i := range points {
		sum := 0.0
		for _, nb := range knn[i] {
			sum += lrd[nb.row]
		}
		out[i] = sum / float64(k) / lrd[i]
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for j := range a {
		d := a[j] - b[j]
		sum += d * d
	}
	return math.Sqrt(sum)
}
