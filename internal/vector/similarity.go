package vector

import (
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Similarity is cosine similarity; stores that compute scores locally use it.
func Similarity(a, b []float32) float64 {
	return utils.Cosine(a, b)
}

// rank sorts hits by descending score with a filename/index tie-break and keeps the top k.
func rank(hits models.RetrievalResult, k int) models.RetrievalResult {
	hits.SortByScore()
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// distanceToScore converts a cosine distance in [0, 2] into a similarity.
func distanceToScore(d float64) float64 {
	return 1 - d
}
