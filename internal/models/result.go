package models

import "sort"

// ScoredChunk is a single retrieval hit.
type ScoredChunk struct {
	Filename string  `json:"filename"`
	Index    int     `json:"chunk_index"`
	Text     string  `json:"content"`
	Score    float64 `json:"score"`
}

// RetrievalResult is ranked by descending score.
type RetrievalResult []ScoredChunk

// SortByScore orders hits by descending score, then filename and chunk index ascending.
func (r RetrievalResult) SortByScore() {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		if r[i].Filename != r[j].Filename {
			return r[i].Filename < r[j].Filename
		}
		return r[i].Index < r[j].Index
	})
}

// Sources returns distinct filenames in order of first appearance.
func (r RetrievalResult) Sources() []string {
	seen := make(map[string]bool, len(r))
	out := make([]string, 0, len(r))
	for _, c := range r {
		if seen[c.Filename] {
			continue
		}
		seen[c.Filename] = true
		out = append(out, c.Filename)
	}
	return out
}
