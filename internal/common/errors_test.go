package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorIs(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("extract page: %w", ProviderError(cause, "chat completion"))

	assert.True(t, errors.Is(err, ErrProvider))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrParse))
	assert.Equal(t, CodeProvider, CodeOf(err))
	assert.Contains(t, err.Error(), "PROVIDER_ERROR: chat completion: connection reset")
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("x")))
	assert.Equal(t, "", CodeOf(nil))
	assert.True(t, IsCode(ValidationErrorf("bad %s", "field"), CodeValidation))
	assert.Nil(t, WrapError(nil, "noop"))
}
