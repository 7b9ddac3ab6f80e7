package search

import (
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
)

// NormalizeKeywordScores maps chunk keys to keyword scores scaled to [0,1] by the maximum.
func NormalizeKeywordScores(hits []keyword.Hit) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return normalized
	}
	maxScore := hits[0].Score
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		key := fileid.ChunkKey(h.Filename, h.Index)
		if maxScore > 0 {
			normalized[key] = h.Score / maxScore
		} else {
			normalized[key] = 0
		}
	}
	return normalized
}

// Fuse merges keyword hits and semantic hits into one ranked result. A chunk missing
// from one side contributes zero for that side.
func Fuse(hits []keyword.Hit, semantic models.RetrievalResult, keywordWeight, semanticWeight float64) models.RetrievalResult {
	keywordScores := NormalizeKeywordScores(hits)
	merged := make(map[string]*models.ScoredChunk, len(hits)+len(semantic))
	semanticScores := make(map[string]float64, len(semantic))

	for _, s := range semantic {
		key := fileid.ChunkKey(s.Filename, s.Index)
		c := s
		merged[key] = &c
		semanticScores[key] = s.Score
	}
	for _, h := range hits {
		key := fileid.ChunkKey(h.Filename, h.Index)
		if _, ok := merged[key]; !ok {
			merged[key] = &models.ScoredChunk{Filename: h.Filename, Index: h.Index, Text: h.Content}
		}
	}

	out := make(models.RetrievalResult, 0, len(merged))
	for key, c := range merged {
		c.Score = keywordWeight*keywordScores[key] + semanticWeight*semanticScores[key]
		out = append(out, *c)
	}
	out.SortByScore()
	return out
}
