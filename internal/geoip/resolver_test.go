package geoip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	t.Parallel()

	r, err := NewStaticResolver(map[string]Location{
		"10.0.0.0/8":     {Country: "US"},
		"10.1.0.0/16":    {Country: "US", Region: "CA"},
		"192.168.0.0/16": {Country: "GB", Region: "LND"},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		ip   string
		want Location
	}{
		{
			name: "Should resolve an address inside a prefix",
			ip:   "10.2.3.4",
			want: Location{Country: "US"},
		},
		{
			name: "Should prefer the longest matching prefix",
			ip:   "10.1.2.3",
			want: Location{Country: "US", Region: "CA"},
		},
		{
			name: "Should resolve another table entry",
			ip:   "192.168.10.1",
			want: Location{Country: "GB", Region: "LND"},
		},
		{
			name: "Should return unknown outside every prefix",
			ip:   "172.16.0.1",
			want: Location{},
		},
		{
			name: "Should return unknown for an unparseable address",
			ip:   "not-an-ip",
			want: Location{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, r.Resolve(tt.ip))
		})
	}
}

func TestStaticResolver_InvalidCIDR(t *testing.T) {
	t.Parallel()

	_, err := NewStaticResolver(map[string]Location{"10.0.0.0/40": {Country: "US"}})

	assert.Error(t, err)
}

func TestNoopResolver(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Location{}, NoopResolver{}.Resolve("8.8.8.8"))
}
