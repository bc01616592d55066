package runtime

import (
	"fmt"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestWrapDockerErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil passes through", err: nil, want: nil},
		{
			name: "not found becomes ErrNotFound",
			err:  fmt.Errorf("inspect: %w", cerrdefs.ErrNotFound),
			want: ErrNotFound,
		},
		{
			name: "other errors untouched",
			err:  fmt.Errorf("some engine failure"),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapDockerErr(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
			} else {
				assert.Error(t, got)
				assert.NotErrorIs(t, got, ErrNotFound)
				assert.NotErrorIs(t, got, ErrUnavailable)
			}
		})
	}
}
