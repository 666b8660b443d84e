package row

import (
	"context"

	"golang.org/x/time/rate"
)

// DMLDelay implements delay_dml_if_needed (§6 `dml_delay`): when purge
// lags behind, DML statements are throttled by a configured per-second
// rate — a token bucket is exactly "apply a configured delay," so
// golang.org/x/time/rate.Limiter is used directly rather than a
// hand-rolled sleep.
type DMLDelay struct {
	limiter *rate.Limiter
}

// NewDMLDelay builds a delay valve allowing ratePerSec statements/sec
// with a burst of burst; ratePerSec <= 0 disables throttling entirely
// (rate.Inf).
func NewDMLDelay(ratePerSec float64, burst int) *DMLDelay {
	if ratePerSec <= 0 {
		return &DMLDelay{limiter: rate.NewLimiter(rate.Inf, burst)}
	}
	return &DMLDelay{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until the next DML statement is allowed to proceed, or
// ctx is cancelled first.
func (d *DMLDelay) Wait(ctx context.Context) error {
	return d.limiter.Wait(ctx)
}

// SetRate reconfigures the throttle at runtime — purge calls this as
// its lag grows or shrinks, the spec's "apply configured micros delay
// when purge lags" adjusted live rather than fixed at startup.
func (d *DMLDelay) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		d.limiter.SetLimit(rate.Inf)
		return
	}
	d.limiter.SetLimit(rate.Limit(ratePerSec))
}
