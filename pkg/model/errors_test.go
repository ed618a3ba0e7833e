package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	for _, err := range []error{ErrUnauthorized, ErrInvalidRequest, ErrNotRegistered, ErrKeyGeneration, ErrPoolExhausted, ErrMasterConflict} {
		wrapped := fmt.Errorf("%w: detail", err)
		require.ErrorIs(t, FromCode(Code(wrapped), wrapped.Error()), err)
	}
	require.Equal(t, CodeInternal, Code(errors.New("other")))
}
