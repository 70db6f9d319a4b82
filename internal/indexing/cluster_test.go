package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func wellSeparatedVectors() [][]float32 {
	return [][]float32{
		{0, 0}, {0, 1}, {1, 0}, // cluster A
		{10, 10}, {10, 11}, {11, 10}, // cluster B
	}
}

func TestCluster_KMeans_SeparatesObviousGroups(t *testing.T) {
	groups := cluster(wellSeparatedVectors(), 2, ClusterKMeans, 1, 0)
	require := assert.New(t)
	require.Len(groups, 2)

	for _, g := range groups {
		allLow := true
		allHigh := true
		for _, idx := range g {
			if idx >= 3 {
				allLow = false
			} else {
				allHigh = false
			}
		}
		require.True(allLow || allHigh, "cluster %v mixes both groups", g)
	}
}

func TestCluster_SoftProbabilistic_SeparatesObviousGroups(t *testing.T) {
	groups := cluster(wellSeparatedVectors(), 2, ClusterSoftProbabilistic, 1, 1)
	require := assert.New(t)
	require.Len(groups, 2)
}

func TestCluster_MinClusterSizeGuardMergesSingletons(t *testing.T) {
	vectors := [][]float32{
		{0, 0}, {0, 1}, {0.1, 0.1}, // cluster A, 3 members
		{10, 10}, // lone outlier, would be its own cluster
	}
	groups := cluster(vectors, 2, ClusterKMeans, 2, 0)
	// The outlier's singleton cluster must be folded into the surviving
	// >=2-member cluster rather than emitted as a degenerate node.
	assert.Len(t, groups, 1)
	assert.Len(t, groups[0], 4)
}

func TestCluster_EmptyInput(t *testing.T) {
	assert.Nil(t, cluster(nil, 2, ClusterKMeans, 1, 0))
}

func TestCluster_KLargerThanN(t *testing.T) {
	vectors := [][]float32{{0, 0}, {1, 1}}
	groups := cluster(vectors, 5, ClusterKMeans, 1, 0)
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	assert.Equal(t, 2, total)
}
