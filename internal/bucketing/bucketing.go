package bucketing

import (
	"unicode/utf16"
)

// Purpose strings keep independent decisions for the same user statistically
// independent: the traffic gate, the variant split and the flag rollout each
// hash a different key.
const (
	PurposeTraffic = "traffic"
	PurposeVariant = "variant"
	PurposeRollout = "rollout"
)

// Bucket maps a key to a stable integer in [0,100).
//
// The algorithm, not just the signature, is the contract: every caller of the
// platform (whatever the language) must land the same user in the same
// bucket. It is the classic 31-multiplier rolling hash over UTF-16 code
// units, wrapped to 32-bit signed, absolute value, mod 100. No randomness,
// no process state.
func Bucket(key string) int {
	var h int32
	for _, cu := range utf16.Encode([]rune(key)) {
		h = h*31 + int32(cu)
	}
	// int32 negation overflows at math.MinInt32; widen before taking abs.
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % 100)
}

// Key builds the hash input for a user and decision purpose.
func Key(userID, purpose string) string {
	return userID + "_" + purpose
}

// UserBucket is shorthand for Bucket(Key(userID, purpose)).
func UserBucket(userID, purpose string) int {
	return Bucket(Key(userID, purpose))
}
