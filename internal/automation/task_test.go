package automation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	actions := []Action{{Type: ActionClick, Selector: "#go"}}
	task := NewTask("https://example.com", actions, &ExtractSpec{Selectors: []string{"li"}})

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", task.ID.String())
	assert.Equal(t, "https://example.com", task.URL)
	assert.Len(t, task.Actions, 1)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestExtractSpec_FilterTexts(t *testing.T) {
	t.Run("trims and drops short items", func(t *testing.T) {
		spec := &ExtractSpec{MinLength: 3}
		got := spec.FilterTexts([]string{"  go  ", "golang", "a", "", "   "})
		assert.Equal(t, []string{"golang"}, got)
	})

	t.Run("dedupes preserving first occurrence order", func(t *testing.T) {
		spec := &ExtractSpec{Dedupe: true}
		got := spec.FilterTexts([]string{"beta", "alpha", "beta ", " alpha", "gamma"})
		assert.Equal(t, []string{"beta", "alpha", "gamma"}, got)
	})

	t.Run("caps at limit", func(t *testing.T) {
		spec := &ExtractSpec{Limit: 2}
		got := spec.FilterTexts([]string{"one", "two", "three", "four"})
		assert.Equal(t, []string{"one", "two"}, got)
	})

	t.Run("duplicates kept without dedupe", func(t *testing.T) {
		spec := &ExtractSpec{}
		got := spec.FilterTexts([]string{"x1", "x1"})
		assert.Equal(t, []string{"x1", "x1"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		spec := &ExtractSpec{Limit: 10, MinLength: 3, Dedupe: true}
		assert.Empty(t, spec.FilterTexts(nil))
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrCrashed))
	assert.True(t, Retryable(fmt.Errorf("attempt 1: %w", ErrCrashed)))

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrTimeout))
	assert.False(t, Retryable(ErrPoolExhausted))
	assert.False(t, Retryable(ErrPoolClosed))
	assert.False(t, Retryable(ErrNotReady))
	assert.False(t, Retryable(&ActionError{Step: 1, Type: ActionClick, Err: errors.New("x")}))
}

func TestActionError(t *testing.T) {
	cause := errors.New("node not found")
	err := &ActionError{Step: 3, Type: ActionClick, Err: cause}

	assert.Contains(t, err.Error(), "click")
	assert.Contains(t, err.Error(), "node not found")
	require.ErrorIs(t, err, cause)

	var ae *ActionError
	wrapped := fmt.Errorf("run task: %w", err)
	require.ErrorAs(t, wrapped, &ae)
	assert.Equal(t, 3, ae.Step)
}
