// Package poll provides the single wait primitive used for every bounded
// wait in the crawler: verification clearing, login completion and list-API
// arrival all poll a predicate at a fixed interval up to a hard ceiling.
package poll

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done. Tests substitute a fake so the
// timeout policy can be exercised without real time passing.
type Sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config parameterises a bounded poll.
type Config struct {
	// Interval between predicate checks.
	Interval time.Duration
	// Ceiling is the total time budget. The number of polls is
	// Ceiling/Interval, rounded down.
	Ceiling time.Duration
	// OnProgress, if set, is called after every ProgressEvery of elapsed
	// wait with the elapsed duration.
	ProgressEvery time.Duration
	OnProgress    func(elapsed time.Duration)
	// Sleep overrides the sleep implementation. Nil means real time.
	Sleep Sleeper
}

// Until sleeps Interval then checks pred, repeating until pred returns true
// or the ceiling is exhausted. It returns true if the predicate was
// satisfied, false if the ceiling expired first, and a non-nil error only
// when ctx was cancelled.
func Until(ctx context.Context, cfg Config, pred func() bool) (bool, error) {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = realSleep
	}
	if cfg.Interval <= 0 || cfg.Ceiling < cfg.Interval {
		return pred(), nil
	}

	attempts := int(cfg.Ceiling / cfg.Interval)
	for i := 1; i <= attempts; i++ {
		if err := sleep(ctx, cfg.Interval); err != nil {
			return false, err
		}
		if pred() {
			return true, nil
		}
		if cfg.OnProgress != nil && cfg.ProgressEvery > 0 {
			elapsed := time.Duration(i) * cfg.Interval
			if elapsed%cfg.ProgressEvery == 0 {
				cfg.OnProgress(elapsed)
			}
		}
	}
	return false, nil
}
