package rag

import "math"

const DefaultMMRLambda = 0.5

// MMR re-ranks candidates by maximal marginal relevance and returns at most k
// of them in selection order. lambda weighs relevance (1) against novelty (0).
func MMR(candidates []Hit, k int, lambda float64) []Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if lambda < 0 || lambda > 1 {
		lambda = DefaultMMRLambda
	}

	remaining := append([]Hit(nil), candidates...)
	selected := make([]Hit, 0, min(k, len(remaining)))

	for len(selected) < k && len(remaining) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range remaining {
			redundancy := 0.0
			for _, s := range selected {
				if sim := Cosine(c.Vector, s.Vector); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*c.Score - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected
}
