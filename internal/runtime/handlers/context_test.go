package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
)

func TestMessageContextBase(t *testing.T) {
	fresh := MessageContextBase{Message: envelope.Message{Payload: "x"}}
	assert.Zero(t, fresh.ResendCount())
	assert.False(t, fresh.Redelivered())

	retried := MessageContextBase{Message: envelope.Message{Payload: "x", ResendCount: 2}}
	assert.Equal(t, 2, retried.ResendCount())
	assert.True(t, retried.Redelivered())

	cause := errors.New("downstream unavailable")
	err := retried.Resend(cause)
	assert.True(t, errspkg.IsResend(err))
	assert.ErrorIs(t, err, cause)
}
