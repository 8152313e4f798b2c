package bucketing

import (
	"fmt"
	"strings"
	"testing"
)

func TestBucketKnownValues(t *testing.T) {
	// Hand-computed from the rolling hash definition.
	cases := []struct {
		key  string
		want int
	}{
		{key: "", want: 0},
		{key: "a", want: 97},   // 'a' = 97
		{key: "ab", want: 5},   // 97*31+98 = 3105
		{key: "abc", want: 54}, // 3105*31+99 = 96354
	}
	for _, tc := range cases {
		t.Run("key_"+tc.key, func(t *testing.T) {
			if got := Bucket(tc.key); got != tc.want {
				t.Fatalf("Bucket(%q)=%d, want %d", tc.key, got, tc.want)
			}
		})
	}
}

func TestBucketDeterminism(t *testing.T) {
	keys := []string{
		"user-1_traffic",
		"user-1_variant",
		"9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d_traffic",
		"üser-ünicode_rollout",
		strings.Repeat("z", 512) + "_variant",
	}
	for _, k := range keys {
		first := Bucket(k)
		for i := 0; i < 50; i++ {
			if got := Bucket(k); got != first {
				t.Fatalf("Bucket(%q) unstable: %d then %d", k, first, got)
			}
		}
	}
}

func TestBucketRange(t *testing.T) {
	for i := 0; i < 100000; i++ {
		k := Key(fmt.Sprintf("user-%d", i), PurposeVariant)
		b := Bucket(k)
		if b < 0 || b >= 100 {
			t.Fatalf("Bucket(%q)=%d out of [0,100)", k, b)
		}
	}
	// Long keys overflow the 32-bit accumulator many times over; the result
	// must still land in range.
	for _, k := range []string{
		strings.Repeat("￿", 64),
		strings.Repeat("overflow", 200),
	} {
		if b := Bucket(k); b < 0 || b >= 100 {
			t.Fatalf("Bucket(long key)=%d out of [0,100)", b)
		}
	}
}

func TestBucketPurposeIndependence(t *testing.T) {
	differ := 0
	for i := 0; i < 1000; i++ {
		user := fmt.Sprintf("user-%d", i)
		if UserBucket(user, PurposeTraffic) != UserBucket(user, PurposeVariant) {
			differ++
		}
	}
	// Independent hashes collide at ~1%, not ~100%.
	if differ < 900 {
		t.Fatalf("traffic and variant buckets differ for only %d/1000 users", differ)
	}
}

func TestBucketDistribution(t *testing.T) {
	const users = 100000
	under70 := 0
	var sum int64
	for i := 0; i < users; i++ {
		b := UserBucket(fmt.Sprintf("user-%d", i), PurposeVariant)
		sum += int64(b)
		if b < 70 {
			under70++
		}
	}
	mean := float64(sum) / users
	if mean < 47.5 || mean > 51.5 {
		t.Fatalf("bucket mean=%.2f, want ~49.5", mean)
	}
	// A 70/30 split realized over 100k users stays within +-1.5%.
	frac := float64(under70) / users
	if frac < 0.685 || frac > 0.715 {
		t.Fatalf("fraction under 70 = %.4f, want 0.70 +- 0.015", frac)
	}
}
