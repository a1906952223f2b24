package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/powerpulse/powerpulse/internal/domain"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestNew_DefaultsModel(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", c.Model())
	assert.Equal(t, "gemini", c.Name())

	c, err = New(context.Background(), "test-key", "gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", c.Model())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "quota exhausted is transient",
			err:  genai.APIError{Code: 429, Message: "quota exhausted"},
			want: domain.ErrUpstreamRateLimit,
		},
		{
			name: "server error is transient",
			err:  genai.APIError{Code: 500, Message: "internal"},
			want: domain.ErrUpstreamTimeout,
		},
		{
			name: "overloaded is transient",
			err:  genai.APIError{Code: 503, Message: "overloaded"},
			want: domain.ErrUpstreamTimeout,
		},
		{
			name: "bad request is permanent",
			err:  genai.APIError{Code: 400, Message: "invalid"},
			want: domain.ErrInvalidArgument,
		},
		{
			name: "auth failure is permanent",
			err:  genai.APIError{Code: 401, Message: "key rejected"},
			want: domain.ErrInvalidArgument,
		},
		{
			name: "wrapped api error unwraps",
			err:  fmt.Errorf("call failed: %w", genai.APIError{Code: 429}),
			want: domain.ErrUpstreamRateLimit,
		},
		{
			name: "deadline maps to timeout",
			err:  context.DeadlineExceeded,
			want: domain.ErrUpstreamTimeout,
		},
		{
			name: "unknown transport error is transient",
			err:  errors.New("connection reset by peer"),
			want: domain.ErrUpstreamTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}

func TestClassify_CancellationPassesThrough(t *testing.T) {
	t.Parallel()

	got := classify(context.Canceled)
	assert.ErrorIs(t, got, context.Canceled)
	assert.False(t, domain.IsTransient(got), "cancellation must not be retried")
}
