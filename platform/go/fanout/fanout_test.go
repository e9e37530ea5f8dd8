package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEachCollectsPerItemErrors(t *testing.T) {
	boom := errors.New("boom")
	errs := Each(context.Background(), 0, []string{"a", "b", "c"}, func(_ context.Context, item string) error {
		if item == "b" {
			return boom
		}
		return nil
	})
	require.Len(t, errs, 3)
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], boom)
	require.NoError(t, errs[2])
}

func TestEachRespectsLimit(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 20)

	Each(context.Background(), 3, items, func(context.Context, int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	require.LessOrEqual(t, peak, int32(3))
}

func TestAllDoesNotStopOnFirstFailure(t *testing.T) {
	var ran int32
	err := All(context.Background(), 1, []int{1, 2, 3}, func(_ context.Context, i int) error {
		atomic.AddInt32(&ran, 1)
		if i == 1 {
			return errors.New("first fails")
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, int32(3), ran)
}

func TestBothLandsTheOtherEffect(t *testing.T) {
	var landed atomic.Bool
	boom := errors.New("directory down")

	err := Both(context.Background(),
		func(context.Context) error { return boom },
		func(context.Context) error { landed.Store(true); return nil },
	)
	require.ErrorIs(t, err, boom)
	require.True(t, landed.Load())
}
