package indexing

import "math"

// ClusterMethod selects the clustering algorithm the hierarchical indexer
// runs over one level's leaf embeddings (spec §4.4: "cluster them (method
// configurable: soft-probabilistic or k-means)"). Grounded directly on
// spec.md §4.4 — no pack repo implements a clustering algorithm, so both
// variants are hand-rolled here (justified in DESIGN.md: no suitable
// third-party clustering library appears anywhere in the example pack).
type ClusterMethod string

const (
	ClusterKMeans          ClusterMethod = "kmeans"
	ClusterSoftProbabilistic ClusterMethod = "soft"
)

const (
	kmeansMaxIterations = 25
	softTemperature     = 4.0 // scales distances in assignSoft; does not change which centroid wins
)

// cluster partitions vectors into at most k groups using the requested
// method, then merges any cluster smaller than minSize into its nearest
// surviving neighbor (spec §4.4's "minimum-cluster-size guard"). Returns
// the member indices of each surviving cluster. seed varies the initial
// centroid picks deterministically across levels/KBs without relying on
// math/rand's global source, so a rebuild is reproducible — it walks the
// vector slice with a fixed stride instead of calling rand.Intn.
func cluster(vectors [][]float32, k int, method ClusterMethod, minSize int, seed int) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	centroids := initCentroids(vectors, k, seed)
	var assignments []int
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		var next []int
		switch method {
		case ClusterSoftProbabilistic:
			next = assignSoft(vectors, centroids)
		default:
			next = assignHard(vectors, centroids)
		}
		if assignments != nil && sameAssignment(assignments, next) {
			assignments = next
			break
		}
		assignments = next
		centroids = recomputeCentroids(vectors, assignments, len(centroids))
	}

	groups := groupByAssignment(assignments, len(centroids))
	return mergeSmallClusters(groups, vectors, minSize)
}

func initCentroids(vectors [][]float32, k int, seed int) [][]float32 {
	n := len(vectors)
	stride := n / k
	if stride < 1 {
		stride = 1
	}
	centroids := make([][]float32, 0, k)
	for i := 0; i < k; i++ {
		idx := (i*stride + seed) % n
		centroids = append(centroids, append([]float32(nil), vectors[idx]...))
	}
	return centroids
}

func assignHard(vectors, centroids [][]float32) []int {
	out := make([]int, len(vectors))
	for i, v := range vectors {
		out[i] = nearestCentroid(v, centroids)
	}
	return out
}

// assignSoft scores each point against every centroid by temperature-scaled
// negative distance (the numerator of a softmax responsibility), then
// hard-assigns it to the highest-scoring centroid. The score falls
// monotonically with distance, so that centroid is always the nearest one:
// for any positive softTemperature the result equals assignHard's, and the
// "soft" method yields the same clusters as k-means. No fractional
// memberships are kept.
func assignSoft(vectors, centroids [][]float32) []int {
	out := make([]int, len(vectors))
	for i, v := range vectors {
		dists := make([]float64, len(centroids))
		for j, c := range centroids {
			dists[j] = euclidean(v, c)
		}
		out[i] = argmaxResponsibility(dists)
	}
	return out
}

func argmaxResponsibility(dists []float64) int {
	// Responsibility ∝ exp(-temperature * dist); the softmax denominator
	// is shared across all centroids for a point, so comparing numerators
	// is equivalent to comparing the full responsibilities.
	best, bestScore := 0, math.Inf(-1)
	for j, d := range dists {
		score := -softTemperature * d
		if score > bestScore {
			bestScore, best = score, j
		}
	}
	return best
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centroids {
		d := euclidean(v, c)
		if d < bestDist {
			bestDist, best = d, j
		}
	}
	return best
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func recomputeCentroids(vectors [][]float32, assignments []int, k int) [][]float32 {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, v := range vectors {
		g := assignments[i]
		counts[g]++
		for d, x := range v {
			sums[g][d] += float64(x)
		}
	}
	centroids := make([][]float32, k)
	for g := range sums {
		c := make([]float32, dim)
		if counts[g] > 0 {
			for d := range c {
				c[d] = float32(sums[g][d] / float64(counts[g]))
			}
		}
		centroids[g] = c
	}
	return centroids
}

func sameAssignment(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func groupByAssignment(assignments []int, k int) [][]int {
	groups := make([][]int, k)
	for i, g := range assignments {
		groups[g] = append(groups[g], i)
	}
	out := make([][]int, 0, k)
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// mergeSmallClusters folds any cluster with fewer than minSize members
// into its nearest surviving (>= minSize) neighbor by centroid distance
// (spec §4.4's minimum-cluster-size guard). When no cluster reaches
// minSize, the groups are returned unchanged, so undersized clusters
// (one-member ones included) are kept in that case.
func mergeSmallClusters(groups [][]int, vectors [][]float32, minSize int) [][]int {
	if minSize <= 1 || len(groups) <= 1 {
		return groups
	}
	centroidOf := func(g []int) []float32 {
		sub := make([][]float32, len(g))
		for i, idx := range g {
			sub[i] = vectors[idx]
		}
		return recomputeCentroids(sub, zeros(len(sub)), 1)[0]
	}

	var big, small [][]int
	for _, g := range groups {
		if len(g) >= minSize {
			big = append(big, g)
		} else {
			small = append(small, g)
		}
	}
	if len(big) == 0 {
		// Every cluster is undersized: keep them as-is rather than
		// collapsing everything into one node (spec's "stop early if
		// fewer than two clusters remain" is the caller's job, not this
		// helper's).
		return groups
	}
	bigCentroids := make([][]float32, len(big))
	for i, g := range big {
		bigCentroids[i] = centroidOf(g)
	}
	for _, g := range small {
		c := centroidOf(g)
		target := nearestCentroid(c, bigCentroids)
		big[target] = append(big[target], g...)
	}
	return big
}

func zeros(n int) []int { return make([]int, n) }
