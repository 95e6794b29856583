package shard

import (
	"github.com/dtsim/ivfshard/internal/ivf"
	"github.com/dtsim/ivfshard/internal/vecmath"
)

func squaredL2(a, b []float32) float32 {
	return vecmath.SquaredL2(a, b)
}

// probeLists returns the nprobe centroid list ids closest to query,
// best first, delegating to the same quantizer logic a sub-index
// builder uses to assign vectors in the first place.
func probeLists(query []float32, centroids []float32, dimension, nprobe int) []int {
	return ivf.NearestClusters(query, centroids, dimension, nprobe)
}
