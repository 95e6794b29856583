package ivf

import (
	"github.com/dtsim/ivfshard/internal/topk"
	"github.com/dtsim/ivfshard/internal/vecmath"
)

// nearestCentroid returns the list id of the centroid closest to vec
// under squared L2. centroids is the flattened Nlist*dimension table;
// dimension is the per-centroid stride.
func nearestCentroid(vec []float32, centroids []float32, dimension int) int {
	nlist := len(centroids) / dimension
	best := 0
	bestDist := float32(-1)
	for listID := 0; listID < nlist; listID++ {
		c := centroids[listID*dimension : (listID+1)*dimension]
		d := vecmath.SquaredL2(vec, c)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = listID
		}
	}
	return best
}

// NearestClusters returns the nprobe closest list ids to vec, best
// first, mirroring the base index's own quantizer assignment so a
// query probes exactly the lists a matching vector would have been
// routed to at build time. A bounded max-heap keeps this to
// O(nlist log nprobe) instead of a full sort of every centroid.
func NearestClusters(vec []float32, centroids []float32, dimension, nprobe int) []int {
	nlist := len(centroids) / dimension
	if nprobe > nlist {
		nprobe = nlist
	}

	h := topk.NewCandidateHeap(nprobe)
	for listID := 0; listID < nlist; listID++ {
		c := centroids[listID*dimension : (listID+1)*dimension]
		h.AddCandidate(topk.Candidate{ID: listID, Distance: vecmath.SquaredL2(vec, c)}, nprobe)
	}

	best := h.ExtractTop()
	out := make([]int, len(best))
	for i, c := range best {
		out[i] = c.ID
	}
	return out
}
