// Package timesync reads and corrects terminal clocks.
package timesync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

// DefaultThreshold is the drift above which a clock is reported at warn
// level.
const DefaultThreshold = 60 * time.Second

type Options struct {
	// OnlyRead reports the clock without setting it.
	OnlyRead  bool
	Threshold time.Duration
	// Now supplies the reference clock. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Result is the outcome for one terminal.
type Result struct {
	Terminal    models.Terminal
	Before      time.Time
	After       time.Time
	DriftBefore time.Duration
	DriftAfter  time.Duration
	Updated     bool
	Err         error
}

// Drifted reports whether the clock was off by more than threshold before
// any correction.
func (r Result) Drifted(threshold time.Duration) bool {
	return r.Err == nil && r.DriftBefore > threshold
}

func drift(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second)
}

// Sync handles one terminal. The device is re-enabled before the session
// closes, whatever happened.
func Sync(ctx context.Context, d terminal.Dialer, t models.Terminal, opts Options) Result {
	opts = opts.withDefaults()
	res := Result{Terminal: t}

	res.Err = terminal.With(ctx, d, t, func(s terminal.Session) error {
		defer func() {
			if err := s.EnableDevice(ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("terminal", t.String()).Msg("could not re-enable terminal")
			}
		}()

		before, err := s.Time(ctx)
		if err != nil {
			return err
		}
		now := opts.Now()
		res.Before = before
		res.DriftBefore = drift(now, before)
		if opts.OnlyRead {
			return nil
		}

		if err := s.SetTime(ctx, now); err != nil {
			return err
		}
		res.Updated = true
		after, err := s.Time(ctx)
		if err != nil {
			return err
		}
		res.After = after
		res.DriftAfter = drift(after, now)
		return nil
	})
	return res
}

// Run syncs every terminal in order and logs each result. Failures are logged
// and the loop moves on.
func Run(ctx context.Context, d terminal.Dialer, terminals []models.Terminal, opts Options) []Result {
	opts = opts.withDefaults()
	log := zerolog.Ctx(ctx)

	results := make([]Result, 0, len(terminals))
	for _, t := range terminals {
		if ctx.Err() != nil {
			break
		}
		res := Sync(ctx, d, t, opts)
		results = append(results, res)

		name := t.Label
		if name == "" {
			name = t.Host
		}
		if res.Err != nil {
			log.Error().Err(res.Err).Str("terminal", name).Str("address", t.Address()).Msg("time sync failed")
			continue
		}

		ev := log.Info()
		if res.Drifted(opts.Threshold) {
			ev = log.Warn().Dur("threshold", opts.Threshold)
		}
		ev = ev.Str("terminal", name).Str("address", t.Address()).
			Time("before", res.Before).Dur("drift", res.DriftBefore)
		if res.Updated {
			ev = ev.Time("after", res.After).Dur("drift_after", res.DriftAfter)
			ev.Msg("terminal clock updated")
		} else {
			ev.Msg("terminal clock read")
		}
	}
	return results
}
