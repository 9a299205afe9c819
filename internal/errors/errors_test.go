package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := Ordering("timestamp %.3f before %.3f", 0.3, 0.5)

	assert.True(t, stderrors.Is(err, ErrOrdering))
	assert.False(t, stderrors.Is(err, ErrConfiguration))
	assert.Equal(t, CodeOrdering, GetCode(err))
}

func TestWrapKeepsCode(t *testing.T) {
	base := IncompleteTrial("missing video onset")
	wrapped := Wrapf(base, "finalize trial %d", 3)

	assert.Equal(t, CodeIncompleteTrial, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, ErrIncompleteTrial))
	assert.Contains(t, wrapped.Error(), "finalize trial 3")
	assert.Contains(t, wrapped.Error(), "missing video onset")
}

func TestWrapForeignError(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "read trial list")

	assert.Equal(t, CodeInternal, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, io.ErrUnexpectedEOF))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestDeviceUnavailableThroughFmtWrap(t *testing.T) {
	err := DeviceUnavailable(io.EOF, "tracker link dropped")
	outer := fmt.Errorf("send message: %w", err)

	assert.True(t, stderrors.Is(outer, ErrDeviceUnavailable))
	assert.True(t, stderrors.Is(outer, io.EOF))
	assert.Equal(t, CodeDeviceUnavailable, GetCode(outer))
	assert.Equal(t, "UNKNOWN", GetCode(io.EOF))
}

func TestWrapFindsCodeThroughFmtWrap(t *testing.T) {
	inner := fmt.Errorf("trial 4: %w", IncompleteTrial("missing video offset"))
	wrapped := Wrap(inner, "finalize")

	assert.Equal(t, CodeIncompleteTrial, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, ErrIncompleteTrial))
	assert.Contains(t, wrapped.Error(), "trial 4")
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodeConfiguration, io.EOF)
	assert.True(t, stderrors.Is(err, ErrConfiguration))

	recoded := WithCode(CodeConfiguration, fmt.Errorf("read traits: %w", InvalidInput("bad row")))
	assert.Equal(t, CodeConfiguration, GetCode(recoded))
	assert.True(t, stderrors.Is(recoded, ErrInvalidInput), "the wrapped kind stays reachable")
}
