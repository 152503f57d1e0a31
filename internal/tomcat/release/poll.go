package release

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Poll bounds a wait on the state of a remote service.
type Poll struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

// Timing holds the waits of a cutover.
type Timing struct {
	// Stop bounds the wait for the service to stop before it is killed.
	Stop Poll `mapstructure:"stop"`
	// Start bounds the wait for the service to report active.
	Start Poll `mapstructure:"start"`
	// Settle is the pause after a forced kill.
	Settle time.Duration `mapstructure:"settle"`
}

// DefaultTiming returns the waits used by the operators so far.
func DefaultTiming() Timing {
	return Timing{
		Stop:   Poll{Timeout: 30 * time.Second, Interval: 3 * time.Second},
		Start:  Poll{Timeout: 60 * time.Second, Interval: 5 * time.Second},
		Settle: 2 * time.Second,
	}
}

// Validate checks that every poll makes progress.
func (t Timing) Validate() error {
	var err error
	for name, p := range map[string]Poll{"stop": t.Stop, "start": t.Start} {
		if p.Interval <= 0 || p.Timeout < 0 {
			err = errors.Join(err, fmt.Errorf("%s poll needs a positive interval and a non negative timeout, got %s/%s", name, p.Timeout, p.Interval))
		}
	}
	if t.Settle < 0 {
		err = errors.Join(err, fmt.Errorf("settle delay must not be negative, got %s", t.Settle))
	}
	return err
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// until calls probe every p.Interval until it reports done or p.Timeout has
// been waited. It returns false when the timeout is reached.
func (p Poll) until(ctx context.Context, sleep sleepFunc, probe func(context.Context) (bool, error), waiting func()) (bool, error) {
	for waited := time.Duration(0); waited < p.Timeout; waited += p.Interval {
		done, err := probe(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if waiting != nil {
			waiting()
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return false, err
		}
	}
	return false, nil
}
