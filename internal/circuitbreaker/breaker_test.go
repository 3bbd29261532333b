package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errUpstream = errors.New("503 from checkout")
	errRefused  = errors.New("refused")
)

func countable(err error) bool { return !errors.Is(err, errRefused) }

func fail() error    { return errUpstream }
func succeed() error { return nil }

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	b := New(threshold, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute("payments", countable, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State("payments"))

	called := false
	err := b.Execute("payments", countable, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "fn must not run while open")

	assert.Equal(t, StateClosed, b.State("paymentMethods"), "other endpoints are independent")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	_ = b.Execute("payments", countable, fail)
	_ = b.Execute("payments", countable, succeed)
	_ = b.Execute("payments", countable, fail)
	assert.Equal(t, StateClosed, b.State("payments"))
}

func TestBreaker_RefusalsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute("payments", countable, func() error { return errRefused }), errRefused)
	}
	assert.Equal(t, StateClosed, b.State("payments"))
}

func TestBreaker_ProbeCloses(t *testing.T) {
	b, now := newTestBreaker(1)
	_ = b.Execute("payments", countable, fail)
	require.Equal(t, StateOpen, b.State("payments"))

	*now = now.Add(time.Minute)
	require.NoError(t, b.Execute("payments", countable, succeed))
	assert.Equal(t, StateClosed, b.State("payments"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(1)
	_ = b.Execute("payments", countable, fail)

	*now = now.Add(time.Minute)
	assert.ErrorIs(t, b.Execute("payments", countable, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State("payments"))

	// cooldown restarts from the failed probe
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Execute("payments", countable, succeed), ErrOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, now := newTestBreaker(1)
	_ = b.Execute("payments", countable, fail)
	*now = now.Add(time.Minute)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute("payments", countable, func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	assert.Equal(t, StateHalfOpen, b.State("payments"))
	assert.ErrorIs(t, b.Execute("payments", countable, succeed), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State("payments"))
}

func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreaker(1)
	_ = b.Execute("payments", countable, fail)
	_ = b.Execute("paymentMethods", countable, succeed)

	assert.Equal(t, map[string]State{
		"payments":       StateOpen,
		"paymentMethods": StateClosed,
	}, b.Snapshot())
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New(1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute("payments", nil, fail)
			} else {
				_ = b.Execute("payments", nil, succeed)
			}
			_ = b.Snapshot()
		}(i)
	}
	wg.Wait()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
