package visual

import (
	"math"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// DefaultMatchThreshold is the cosine similarity a library asset needs to be reused.
const DefaultMatchThreshold = 0.82

// Cosine returns the cosine similarity of a and b, or 0 when they differ in
// length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BestMatch returns the most similar asset at or above threshold.
func BestMatch(assets []models.MediaAsset, query []float32, threshold float64) (*models.MediaAsset, float64) {
	var best *models.MediaAsset
	bestScore := -1.0
	for i := range assets {
		s := Cosine(assets[i].Embedding, query)
		if s > bestScore {
			best, bestScore = &assets[i], s
		}
	}
	if best == nil || bestScore < threshold {
		return nil, math.Max(bestScore, 0)
	}
	return best, bestScore
}
