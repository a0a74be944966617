package ingesterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_UnwrapsWrappedError(t *testing.T) {
	base := New(KindDecodeMismatch, "poolA", "sig1", errors.New("bad discriminator"))
	wrapped := errors.New("outer: " + base.Error())
	wrappedWithChain := errWrap(base)

	assert.Equal(t, KindDecodeMismatch, KindOf(base))
	assert.Equal(t, KindDecodeMismatch, KindOf(wrappedWithChain))
	assert.Equal(t, KindRepositoryError, KindOf(wrapped), "a plain error without an *Error chain classifies as repository error")
}

func TestIsDuplicate(t *testing.T) {
	dup := New(KindDuplicateSignature, "poolA", "sig1", errors.New("unique violation"))
	other := New(KindRepositoryError, "poolA", "sig1", errors.New("conn reset"))

	assert.True(t, IsDuplicate(dup))
	assert.False(t, IsDuplicate(other))
	assert.False(t, IsDuplicate(errors.New("plain")))
}

func errWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
