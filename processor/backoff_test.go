package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/processor"
)

// recordingSleeper captures requested sleep durations instead of sleeping.
type recordingSleeper struct {
	sleeps []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, duration time.Duration) error {
	s.sleeps = append(s.sleeps, duration)
	return nil
}

func newTestDriver(t *testing.T, sleeper *recordingSleeper, options ...processor.DriverOption) *processor.Driver {
	t.Helper()

	options = append([]processor.DriverOption{processor.WithSleeper(sleeper.sleep)}, options...)

	driver, err := processor.NewDriver(options...)
	require.NoError(t, err)

	return driver
}

func Test_Driver_BackoffSchedule_DoublesPerConsecutiveFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	driver := newTestDriver(t, sleeper)

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		if invocations <= 3 {
			return 0, errors.New("boom")
		}
		return processor.ActionStop, nil
	}

	require.NoError(t, driver.Run(context.Background(), task))

	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
	}, sleeper.sleeps)
}

func Test_Driver_SuccessResetsTheFailureCounter(t *testing.T) {
	sleeper := &recordingSleeper{}
	driver := newTestDriver(t, sleeper, processor.WithIdleWait(50*time.Millisecond))

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		switch invocations {
		case 1, 2:
			return 0, errors.New("boom")
		case 3:
			return processor.ActionWait, nil
		case 4:
			return 0, errors.New("boom again")
		default:
			return processor.ActionStop, nil
		}
	}

	require.NoError(t, driver.Run(context.Background(), task))

	// Two failures back off at exponents 1 and 2, the Wait sleeps the idle
	// interval, and the failure after the success starts over at exponent 1.
	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		50 * time.Millisecond,
		2 * time.Millisecond,
	}, sleeper.sleeps)
}

func Test_Driver_BackoffSleep_IsCapped(t *testing.T) {
	sleeper := &recordingSleeper{}
	driver := newTestDriver(t, sleeper, processor.WithBackoffCap(4))

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		if invocations <= 4 {
			return 0, errors.New("boom")
		}
		return processor.ActionStop, nil
	}

	require.NoError(t, driver.Run(context.Background(), task))

	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, sleeper.sleeps)
}

func Test_Driver_FailureCallback_SeesConsecutiveCount(t *testing.T) {
	sleeper := &recordingSleeper{}

	var counts []int
	driver := newTestDriver(t, sleeper, processor.WithFailureCallback(func(_ error, consecutiveFailures int) {
		counts = append(counts, consecutiveFailures)
	}))

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		if invocations <= 3 {
			return 0, errors.New("boom")
		}
		return processor.ActionStop, nil
	}

	require.NoError(t, driver.Run(context.Background(), task))
	assert.Equal(t, []int{1, 2, 3}, counts)
}

func Test_Driver_ContinueLoopsWithoutSleeping(t *testing.T) {
	sleeper := &recordingSleeper{}
	driver := newTestDriver(t, sleeper)

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		if invocations < 3 {
			return processor.ActionContinue, nil
		}
		return processor.ActionStop, nil
	}

	require.NoError(t, driver.Run(context.Background(), task))

	assert.Equal(t, 3, invocations)
	assert.Empty(t, sleeper.sleeps)
}

func Test_Driver_RecoversTaskPanicsAsFailures(t *testing.T) {
	sleeper := &recordingSleeper{}

	var recovered error
	driver := newTestDriver(t, sleeper, processor.WithFailureCallback(func(cause error, _ int) {
		recovered = cause
	}))

	invocations := 0
	task := func(_ context.Context) (processor.Action, error) {
		invocations++
		if invocations == 1 {
			panic("bad event")
		}
		return processor.ActionStop, nil
	}

	require.NoError(t, driver.Run(context.Background(), task))

	require.Error(t, recovered)
	assert.Contains(t, recovered.Error(), "bad event")
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, sleeper.sleeps)
}

func Test_Driver_CanceledContext_StopsTheLoop(t *testing.T) {
	sleeper := &recordingSleeper{}
	driver := newTestDriver(t, sleeper)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := driver.Run(ctx, func(_ context.Context) (processor.Action, error) {
		return processor.ActionContinue, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
