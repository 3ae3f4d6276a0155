package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want int64
	}{
		{
			name: "Should hash the empty string to zero",
			in:   "",
			want: 0,
		},
		{
			name: "Should hash a single character to its code point",
			in:   "a",
			want: 97,
		},
		{
			name: "Should fold characters as h*31 + c",
			in:   "ab",
			want: 3105, // 97*31 + 98
		},
		{
			name: "Should match the known vector for abc",
			in:   "abc",
			want: 96354,
		},
		{
			name: "Should hash multi-byte code points by code point, not by byte",
			in:   "é",
			want: 233,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, HashString(tt.in))
		})
	}
}

func TestHashString_NeverNegative(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"new-feature:user123",
		"dark-mode:0000000000000000",
		"a-rather-long-rollout-identifier-with-plenty-of-entropy:user-42",
		"x",
		"",
	}

	for _, in := range inputs {
		assert.GreaterOrEqual(t, HashString(in), int64(0), "input %q", in)
	}
}

func TestBucket(t *testing.T) {
	t.Parallel()

	t.Run("Should produce buckets in 1..100", func(t *testing.T) {
		t.Parallel()

		for i := 0; i < 500; i++ {
			b := Bucket("new-feature", "user"+string(rune('0'+i%10))+string(rune('0'+i/10)))
			assert.GreaterOrEqual(t, b, 1)
			assert.LessOrEqual(t, b, 100)
		}
	})

	t.Run("Should be deterministic for the same pair", func(t *testing.T) {
		t.Parallel()

		first := Bucket("beta-rule", "user055")
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Bucket("beta-rule", "user055"))
		}
	})

	t.Run("Should derive from the joined ruleID:userID string", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, int(HashString("r:u")%100)+1, Bucket("r", "u"))
		assert.Equal(t, 70, Bucket("r", "u")) // hash("r:u") = 111469
	})

	t.Run("Should make membership monotonic in the percentage", func(t *testing.T) {
		t.Parallel()

		b := Bucket("gradual", "user-7")
		// Inside at its own bucket and above, outside below.
		assert.True(t, b <= b)
		assert.False(t, b <= b-1)
		assert.True(t, b <= 100)
	})
}
