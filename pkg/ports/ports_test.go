package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocator(t *testing.T) {
	tests := []struct {
		name    string
		start   int
		end     int
		wantErr bool
	}{
		{name: "valid range", start: 19001, end: 19999},
		{name: "single port range", start: 19001, end: 19001},
		{name: "inverted range", start: 19999, end: 19001, wantErr: true},
		{name: "zero start", start: 0, end: 19999, wantErr: true},
		{name: "negative end", start: 19001, end: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAllocator(tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name string
		used []int
		want int
	}{
		{name: "empty range start", used: nil, want: 19001},
		{name: "skips used", used: []int{19001, 19002}, want: 19003},
		{name: "fills gap", used: []int{19001, 19003}, want: 19002},
		{name: "ignores ports outside range", used: []int{18000, 20000}, want: 19001},
		{name: "reuses lowest freed port", used: []int{19002, 19003, 19004}, want: 19001},
	}

	a, err := NewAllocator(19001, 19999)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Allocate(tt.used)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocateExhausted(t *testing.T) {
	a, err := NewAllocator(19001, 19003)
	require.NoError(t, err)

	_, err = a.Allocate([]int{19001, 19002, 19003})
	assert.ErrorIs(t, err, ErrNoPortsAvailable)
}
