package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLLMError covers message formatting and unwrapping of LLMError.
func TestLLMError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := NewLLMError("gpt-4", "Complete", ErrInvalidResponse)

		assert.Equal(t, "LLM error: model=gpt-4, operation=Complete, err=invalid response", err.Error())
		assert.Equal(t, "gpt-4", err.Model)
		assert.Equal(t, "Complete", err.Operation)
		assert.True(t, errors.Is(err, ErrInvalidResponse))
	})

	t.Run("errors.As through wrapping", func(t *testing.T) {
		var wrapped error = NewLLMError("claude", "Complete", ErrLLMUnavailable)
		wrapped = errors.Join(errors.New("row 3"), wrapped)

		var llmErr *LLMError
		assert.True(t, errors.As(wrapped, &llmErr))
		assert.Equal(t, "claude", llmErr.Model)
	})
}

// TestConfigError covers ConfigError formatting and unwrapping.
func TestConfigError(t *testing.T) {
	cause := errors.New(`failed "required"`)
	err := NewConfigError("Config.LLM.Provider", cause)

	assert.Equal(t, `config error: key=Config.LLM.Provider, err=failed "required"`, err.Error())
	assert.True(t, errors.Is(err, cause))
}
