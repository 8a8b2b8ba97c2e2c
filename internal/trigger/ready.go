package trigger

import (
	"errors"
	"log/slog"
	"time"

	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
)

// ReadyProbe reports whether the AR runtime has initialized its subsystem.
type ReadyProbe func() bool

// AwaitRuntime polls probe until it succeeds or attempts run out, then calls
// proceed. Running out is logged and degrades to proceeding anyway; proceed
// receives false in that case. Cancelling the returned poller suppresses proceed.
func AwaitRuntime(s loop.Scheduler, probe ReadyProbe, attempts int, interval time.Duration, logger *slog.Logger, proceed func(ready bool)) *loop.Poller {
	start := s.Now()
	return loop.Poll(s, attempts, interval, probe, func(err error) {
		if errors.Is(err, loop.ErrPollTimeout) {
			logger.Warn("AR runtime not ready, wiring triggers anyway",
				logging.Kind(logging.KindSubsystemTimeout),
				"attempts", attempts,
				"waited", s.Now().Sub(start))
			proceed(false)
			return
		}
		proceed(true)
	})
}
