package domain

// BestResult picks the most accurate result with an accepted tier.
// Ties keep the earlier result. ok is false when no result is acceptable.
func BestResult(results []GeocodeResult) (best GeocodeResult, ok bool) {
	for _, r := range results {
		if !r.Tier.Accepted() {
			continue
		}
		if !ok || r.Accuracy > best.Accuracy {
			best = r
			ok = true
		}
	}
	return best, ok
}
