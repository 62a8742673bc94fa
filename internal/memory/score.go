package memory

import (
	"math"
)

// Recall scoring blends four signals. The weights sum to 1.0.
//
// A second, independently named scheme ranks the queryless hot-context
// listing; it has no text-relevance term and weighs recency higher. The two
// schemes are intentionally not unified.
const (
	recallRelevanceWeight  = 0.4
	recallImportanceWeight = 0.3
	recallRecencyWeight    = 0.2
	recallFrequencyWeight  = 0.1

	hotImportanceWeight = 0.4
	hotRecencyWeight    = 0.3
	hotFrequencyWeight  = 0.3

	recencyHalfLifeDays = 30.0
	frequencyReference  = 100
)

// ScoreComponents is the per-query breakdown of one candidate's ranking
// signals. Ephemeral: recomputed on every query, never persisted.
type ScoreComponents struct {
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Total      float64 `json:"total"`
}

// RecallScore computes the hybrid recall score from normalized signals.
func RecallScore(relevance, importanceNorm, recency, frequency float64) ScoreComponents {
	c := ScoreComponents{
		Relevance:  relevance,
		Importance: importanceNorm,
		Recency:    recency,
		Frequency:  frequency,
	}
	c.Total = recallRelevanceWeight*relevance +
		recallImportanceWeight*importanceNorm +
		recallRecencyWeight*recency +
		recallFrequencyWeight*frequency
	return c
}

// HotContextScore ranks records for queryless context assembly.
func HotContextScore(importanceNorm, recency, frequency float64) float64 {
	return hotImportanceWeight*importanceNorm +
		hotRecencyWeight*recency +
		hotFrequencyWeight*frequency
}

// RecencyNorm decays exponentially with time since last access, with a
// 30-day half-life.
func RecencyNorm(lastAccessed, now int64) float64 {
	if now <= lastAccessed {
		return 1.0
	}
	ageDays := float64(now-lastAccessed) / float64(dayMillis)
	return math.Pow(0.5, ageDays/recencyHalfLifeDays)
}

// FrequencyNorm compresses access counts logarithmically, reaching 1.0 at
// the reference count.
func FrequencyNorm(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	v := math.Log(float64(accessCount)+1) / math.Log(float64(frequencyReference)+1)
	if v > 1 {
		v = 1
	}
	return v
}

// NormalizeRanks min-max normalizes bm25 ranks to [0,1]. bm25 is
// smaller-is-better, so the best rank maps to 1.0. A uniform set (including
// a single candidate) maps to 1.0 everywhere.
func NormalizeRanks(ranks []float64) []float64 {
	out := make([]float64, len(ranks))
	if len(ranks) == 0 {
		return out
	}

	min, max := ranks[0], ranks[0]
	for _, r := range ranks[1:] {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, r := range ranks {
		out[i] = (max - r) / (max - min)
	}
	return out
}
