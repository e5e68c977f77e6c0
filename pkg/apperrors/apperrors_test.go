package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"coded", New(CodeInvalidArgument, "amount required"), CodeInvalidArgument},
		{"wrapped coded", fmt.Errorf("confirm: %w", New(CodeGateway, "declined")), CodeGateway},
		{"sentinel not found", fmt.Errorf("load: %w", ErrNotFound), CodeNotFound},
		{"sentinel already used", ErrAlreadyUsed, CodeConflict},
		{"plain error", errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(CodeNotFound, "registration not found", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, Is(err, CodeNotFound))
	assert.Equal(t, "registration not found", MessageOf(err))
}

func TestMessageOfHidesInternalDetail(t *testing.T) {
	err := Wrap(CodeInternal, "pg: connection refused on 10.0.0.3", errors.New("dial"))
	assert.Equal(t, "internal error", MessageOf(err))
	assert.Equal(t, "internal error", MessageOf(errors.New("raw")))
}
