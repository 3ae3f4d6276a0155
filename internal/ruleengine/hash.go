package ruleengine

// HashString computes the rollout hash of s: starting from zero, each code
// point c folds in as h = (h << 5) - h + c with 32-bit signed wrap-around,
// and the absolute value is returned.
//
// This exact function is contractual. Rollout bucket membership is
// externally observable, so swapping in a different hash would silently move
// users in and out of active rollouts.
func HashString(s string) int64 {
	var h int32
	for _, c := range s {
		h = h<<5 - h + int32(c)
	}
	// Widen before negating: -MinInt32 is not representable in int32.
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// Bucket maps a (ruleID, userID) pair onto its stable rollout bucket in
// 1..100. A user is inside a rollout of percentage p iff Bucket <= p, which
// makes membership monotonic in p.
func Bucket(ruleID, userID string) int {
	return int(HashString(ruleID+":"+userID)%100) + 1
}
