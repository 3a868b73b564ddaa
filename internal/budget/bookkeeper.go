// Package budget fits an extracted repository digest into a byte budget
// derived from a model context window.
package budget

import "math"

// Spec carries the inputs the budget math depends on. It is immutable per
// run; the overflow retry constructs a fresh Spec with a reduced ratio.
type Spec struct {
	// ContextWindowTokens is the downstream model's context window.
	ContextWindowTokens int
	// ReservationRatio is the fraction of the window reserved for repo data.
	ReservationRatio float64
	// BytesPerToken is the coarse bytes-per-token estimate used for all
	// byte/token conversions.
	BytesPerToken float64
}

// MaxRepoDataBytes is the hard byte cap for the whole rendered digest.
func (s Spec) MaxRepoDataBytes() int {
	return int(math.Floor(float64(s.ContextWindowTokens) * s.ReservationRatio * s.BytesPerToken))
}

// EstimatedTokens converts a UTF-8 byte count to a token estimate.
func (s Spec) EstimatedTokens(byteCount int) int {
	if byteCount <= 0 {
		return 0
	}
	if s.BytesPerToken <= 0 {
		return byteCount
	}
	return int(math.Ceil(float64(byteCount) / s.BytesPerToken))
}

// TokensToBytes converts a token count to its byte estimate.
func (s Spec) TokensToBytes(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(float64(tokens) * s.BytesPerToken))
}
