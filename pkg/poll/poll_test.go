package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForSucceeds(t *testing.T) {
	calls := 0
	w := NewWaiter(time.Second, 5*time.Millisecond)

	err := w.WaitFor(context.Background(), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	}, "third call")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForTimeout(t *testing.T) {
	w := NewWaiter(30*time.Millisecond, 5*time.Millisecond)

	err := w.WaitFor(context.Background(), func(context.Context) (bool, error) {
		return false, nil
	}, "never")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindTimeout))
}

func TestWaitForConditionError(t *testing.T) {
	boom := errors.New("boom")
	w := NewWaiter(time.Second, 5*time.Millisecond)

	err := w.WaitFor(context.Background(), func(context.Context) (bool, error) {
		return false, boom
	}, "error")
	assert.ErrorIs(t, err, boom)
}

func TestWaitForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWaiter(time.Second, 5*time.Millisecond)

	calls := 0
	err := w.WaitFor(ctx, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	}, "cancelled")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fault.Is(err, fault.KindTimeout))
}
