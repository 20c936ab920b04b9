package breaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Passthrough(t *testing.T) {
	r := NewRegistry()
	calls := 0
	err := r.Execute("l1", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", r.State("l1"))
}

func TestExecute_TripsAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("upstream down")

	// l1 threshold is 3 consecutive failures.
	for i := 0; i < 3; i++ {
		err := r.Execute("l1", func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", r.State("l1"))

	// Short-circuited call never reaches fn.
	called := false
	err := r.Execute("l1", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestExecute_SuccessResetsConsecutiveCount(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("flaky")

	for i := 0; i < 2; i++ {
		_ = r.Execute("dispatch", func() error { return boom })
	}
	require.NoError(t, r.Execute("dispatch", func() error { return nil }))
	for i := 0; i < 2; i++ {
		_ = r.Execute("dispatch", func() error { return boom })
	}
	// Only 2 consecutive failures since the success — still closed.
	assert.Equal(t, "closed", r.State("dispatch"))
}

func TestUnknownServiceUsesFallback(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "closed", r.State("memory-recall"))
}
