package processor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// Action tells the Driver what a task wants to happen next.
type Action int

const (
	// ActionWait asks the driver to sleep for the idle interval before the
	// next invocation; the task found nothing (more) to do right now.
	ActionWait Action = iota + 1

	// ActionContinue asks the driver to invoke the task again immediately;
	// the task drained a full batch and more work is likely pending.
	ActionContinue

	// ActionStop asks the driver to end the loop cleanly.
	ActionStop
)

// Task is one unit of polling work. It reports what should happen next and,
// independently, whether it failed. A non-nil error always takes precedence
// over the returned action.
type Task func(ctx context.Context) (Action, error)

// FailureCallback is invoked on every task failure with the cause and the
// number of consecutive failures so far (starting at 1).
type FailureCallback func(cause error, consecutiveFailures int)

// Sleeper suspends the calling goroutine for the given duration or until the
// context is canceled, whichever comes first. Injectable for tests.
type Sleeper func(ctx context.Context, duration time.Duration) error

const (
	defaultIdleWait    = 1 * time.Second
	defaultBackoffBase = 2.0
	defaultBackoffCap  = 600_000.0
	defaultSleepUnit   = 1 * time.Millisecond

	logMsgTaskFailed    = "task failed, backing off"
	logMsgTaskPanicked  = "task panicked"
	logAttrFailures     = "consecutive_failures"
	logAttrBackoffSleep = "backoff_sleep"
)

// Driver runs a Task in a loop with idle waiting and exponential backoff on
// failure. The backoff sleep after the n-th consecutive failure is
// min(cap, base^n) sleep units; any successful invocation (Wait or Continue)
// resets the failure counter.
type Driver struct {
	idleWait    time.Duration
	backoffBase float64
	backoffCap  float64
	sleepUnit   time.Duration
	onFailure   FailureCallback
	sleep       Sleeper
	logger      eventstore.Logger
}

// DriverOption defines a functional option for configuring a Driver.
type DriverOption func(*Driver) error

// WithIdleWait sets the sleep duration after a task returned ActionWait.
func WithIdleWait(idleWait time.Duration) DriverOption {
	return func(d *Driver) error {
		if idleWait <= 0 {
			return fmt.Errorf("idle wait must be positive, got %v", idleWait)
		}

		d.idleWait = idleWait

		return nil
	}
}

// WithBackoffBase sets the base of the exponential backoff schedule.
func WithBackoffBase(base float64) DriverOption {
	return func(d *Driver) error {
		if base <= 1 {
			return fmt.Errorf("backoff base must be greater than 1, got %v", base)
		}

		d.backoffBase = base

		return nil
	}
}

// WithBackoffCap bounds the backoff sleep, expressed in sleep units.
func WithBackoffCap(upper float64) DriverOption {
	return func(d *Driver) error {
		if upper < 1 {
			return fmt.Errorf("backoff cap must be at least 1, got %v", upper)
		}

		d.backoffCap = upper

		return nil
	}
}

// WithSleepUnit scales the backoff schedule. The default of one millisecond
// gives the schedule 2ms, 4ms, 8ms, ... capped at ten minutes.
func WithSleepUnit(unit time.Duration) DriverOption {
	return func(d *Driver) error {
		if unit <= 0 {
			return fmt.Errorf("sleep unit must be positive, got %v", unit)
		}

		d.sleepUnit = unit

		return nil
	}
}

// WithFailureCallback registers a callback invoked on every task failure.
func WithFailureCallback(callback FailureCallback) DriverOption {
	return func(d *Driver) error {
		d.onFailure = callback
		return nil
	}
}

// WithSleeper overrides how the driver sleeps. Tests inject a recording
// sleeper to assert the schedule without waiting it out.
func WithSleeper(sleeper Sleeper) DriverOption {
	return func(d *Driver) error {
		if sleeper == nil {
			return fmt.Errorf("sleeper must not be nil")
		}

		d.sleep = sleeper

		return nil
	}
}

// WithDriverLogger sets the logger for the Driver.
func WithDriverLogger(logger eventstore.Logger) DriverOption {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// NewDriver builds a Driver with the default schedule (idle wait 1s, base 2,
// cap 600000 units, unit 1ms) and applies the given options.
func NewDriver(options ...DriverOption) (*Driver, error) {
	d := &Driver{
		idleWait:    defaultIdleWait,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleepUnit:   defaultSleepUnit,
		sleep:       sleepWithContext,
	}

	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Run invokes the task until it returns ActionStop or the context is
// canceled. Panics inside the task are recovered and treated as failures so
// one bad event cannot kill the polling goroutine.
func (d *Driver) Run(ctx context.Context, task Task) error {
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		action, taskErr := d.runTask(ctx, task)

		if taskErr != nil {
			consecutiveFailures++

			if d.onFailure != nil {
				d.onFailure(taskErr, consecutiveFailures)
			}

			backoffSleep := d.backoffSleep(consecutiveFailures)

			if d.logger != nil {
				d.logger.Warn(logMsgTaskFailed,
					"error", taskErr.Error(),
					logAttrFailures, consecutiveFailures,
					logAttrBackoffSleep, backoffSleep.String())
			}

			if sleepErr := d.sleep(ctx, backoffSleep); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		consecutiveFailures = 0

		switch action {
		case ActionContinue:
			// loop immediately

		case ActionWait:
			if sleepErr := d.sleep(ctx, d.idleWait); sleepErr != nil {
				return sleepErr
			}

		case ActionStop:
			return nil

		default:
			return fmt.Errorf("task returned unknown action %d", action)
		}
	}
}

func (d *Driver) runTask(ctx context.Context, task Task) (action Action, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("task panicked: %v", recovered)

			if d.logger != nil {
				d.logger.Error(logMsgTaskPanicked, "panic", fmt.Sprintf("%v", recovered))
			}
		}
	}()

	return task(ctx)
}

func (d *Driver) backoffSleep(consecutiveFailures int) time.Duration {
	units := math.Min(d.backoffCap, math.Pow(d.backoffBase, float64(consecutiveFailures)))

	return time.Duration(units * float64(d.sleepUnit))
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
