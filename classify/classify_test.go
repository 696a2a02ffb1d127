package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KOMKZ/go-yogan-accountsync/errcode"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

func TestCodeClassifier_Taxonomy(t *testing.T) {
	c := New()

	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"not found", errdef.ErrNotFound, KindNotFound, false},
		{"ownership", errdef.ErrOwnershipMismatch.WithData("owner", "x"), KindOwnershipMismatch, false},
		{"decode wrapped", fmt.Errorf("decode: %w", errdef.ErrDecodeFailure.Wrap(errors.New("short buffer"))), KindDecodeFailure, false},
		{"capacity", errdef.ErrCapacityExceeded, KindCapacityExceeded, false},
		{"circuit open", errdef.ErrCircuitOpen, KindCircuitOpen, true},
		{"timeout", errdef.ErrTimeout, KindTimeout, true},
		{"transport", errdef.ErrTransport.Wrap(errors.New("eof")), KindTransport, true},
		{"invalid argument", errdef.ErrInvalidArgument, KindValidation, false},
		{"closed", errdef.ErrClosed, KindClosed, false},
		{"context canceled", context.Canceled, KindCanceled, false},
		{"deadline", fmt.Errorf("rpc: %w", context.DeadlineExceeded), KindTimeout, true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransport, true},
		{"syscall reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransport, true},
		{"unknown", errors.New("mystery"), KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestCodeClassifier_Options(t *testing.T) {
	custom := errcode.New(90, 1, "app", "error.app.rate_limited", "rate limited")
	c := New(
		WithRule(custom.Code(), Classification{KindTransport, true}),
		WithFallback(Classification{KindUnknown, false}),
	)

	assert.Equal(t, Classification{KindTransport, true}, c.Classify(custom))
	assert.False(t, c.Classify(errors.New("mystery")).Retryable)
}

func TestCodeClassifier_Nil(t *testing.T) {
	assert.Equal(t, Classification{}, Default().Classify(nil))
}

func TestFunc(t *testing.T) {
	f := Func(func(error) Classification { return Classification{KindValidation, false} })
	assert.Equal(t, KindValidation, f.Classify(errors.New("x")).Kind)
}

func TestMostSpecific(t *testing.T) {
	c := New()
	transport := errdef.ErrTransport.Wrap(errors.New("eof"))
	timeout := errdef.ErrTimeout
	decode := errdef.ErrDecodeFailure

	assert.Same(t, decode, MostSpecific(c, []error{transport, decode, timeout}))
	assert.Same(t, timeout, MostSpecific(c, []error{transport, timeout, transport}))

	second := errdef.ErrTransport.Wrap(errors.New("second"))
	assert.Same(t, second, MostSpecific(c, []error{transport, second}))
	assert.Nil(t, MostSpecific(c, nil))
}
