package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// failing returns fn that fails the first n calls and counts every call.
func failing(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return errBusy
		}
		return nil
	}
}

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialInterval(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{"first call succeeds", 0, 3, false, 1},
		{"succeeds on the last retry", 3, 3, false, 4},
		{"runs out of retries", 10, 2, true, 3},
		{"no retries", 1, 0, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fast(WithMaxRetries(tt.retries)).Do(context.Background(), failing(tt.failures, &calls))
			if tt.wantErr {
				require.ErrorIs(t, err, errBusy)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := New(WithInitialInterval(time.Hour)).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errBusy
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_RetryIf(t *testing.T) {
	errDenied := errors.New("denied")
	r := fast(WithRetryIf(func(err error) bool { return errors.Is(err, errBusy) }))

	calls := 0
	require.NoError(t, r.Do(context.Background(), failing(2, &calls)))
	require.Equal(t, 3, calls)

	calls = 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errDenied
	})
	require.ErrorIs(t, err, errDenied)
	require.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var seen []int
	r := fast(WithMaxRetries(4), WithOnRetry(func(attempt int, _ time.Duration, err error) {
		require.ErrorIs(t, err, errBusy)
		seen = append(seen, attempt)
	}))

	calls := 0
	require.NoError(t, r.Do(context.Background(), failing(2, &calls)))
	require.Equal(t, []int{1, 2}, seen)
}

func TestWait(t *testing.T) {
	r := New(WithInitialInterval(time.Second), WithMaxInterval(5*time.Second), WithJitter(0))
	require.Equal(t, time.Second, r.wait(1))
	require.Equal(t, 2*time.Second, r.wait(2))
	require.Equal(t, 4*time.Second, r.wait(3))
	require.Equal(t, 5*time.Second, r.wait(4))
	require.Equal(t, 5*time.Second, r.wait(50))

	r = New(WithInitialInterval(time.Second), WithJitter(0.5))
	for range 20 {
		require.InDelta(t, float64(time.Second), float64(r.wait(1)), float64(time.Second/2))
	}
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(fast(), context.Background(), func(ctx context.Context) (int, error) {
		if err := failing(1, &calls)(ctx); err != nil {
			return -1, err
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)

	v, err = DoWithData(fast(WithMaxRetries(0)), context.Background(), func(context.Context) (int, error) {
		return -1, errBusy
	})
	require.ErrorIs(t, err, errBusy)
	require.Zero(t, v)
}
