package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider(t *testing.T) {
	t.Parallel()

	t.Run("scripted outcomes repeat the last one", func(t *testing.T) {
		t.Parallel()

		p := &mocks.MockProvider{Outcomes: []mocks.Outcome{
			{Err: errors.New("first")},
			{Completion: &generation.Completion{Content: "ok"}},
		}}

		_, err := p.Complete(context.Background(), generation.Request{Prompt: "a"})
		assert.EqualError(t, err, "first")

		for i := 0; i < 2; i++ {
			c, err := p.Complete(context.Background(), generation.Request{Prompt: "b"})
			require.NoError(t, err)
			assert.Equal(t, "ok", c.Content)
		}

		assert.Equal(t, 3, p.Calls())
		assert.Equal(t, "a", p.Requests()[0].Prompt)

		p.Reset()
		assert.Zero(t, p.Calls())
	})

	t.Run("failing provider carries status", func(t *testing.T) {
		t.Parallel()

		p := mocks.MockProviderThatFails(503)
		_, err := p.Complete(context.Background(), generation.Request{Prompt: "x"})

		var perr *generation.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 503, perr.Status)
	})

	t.Run("function override wins", func(t *testing.T) {
		t.Parallel()

		p := &mocks.MockProvider{
			CompleteFn: func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
				return &generation.Completion{Content: req.Model}, nil
			},
		}
		c, err := p.Complete(context.Background(), generation.Request{Prompt: "x", Model: "m1"})
		require.NoError(t, err)
		assert.Equal(t, "m1", c.Content)
	})
}
