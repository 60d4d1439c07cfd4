package agent

import (
	"context"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vesaa/bwrecord/internal/config"
)

// Sampler produces one counter snapshot. *Collector is the production one.
type Sampler interface {
	Sample(ctx context.Context) (Counters, error)
}

// Rate is an instantaneous throughput estimate in whole KiB/s.
type Rate struct {
	InKiB  int64 // received
	OutKiB int64 // transmitted
}

// Estimator measures a Rate over a fixed window. A window whose real length
// falls outside target±tolerance is thrown away and measured again, up to
// maxAttempts times.
type Estimator struct {
	sampler     Sampler
	clock       clock.Clock
	target      time.Duration
	tolerance   time.Duration
	maxAttempts int
	log         *zap.Logger
}

// NewEstimator builds an Estimator with the window settings from cfg.
// A nil clk means the wall clock.
func NewEstimator(s Sampler, clk clock.Clock, cfg config.Config, log *zap.Logger) *Estimator {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{
		sampler:     s,
		clock:       clk,
		target:      cfg.SampleDuration(),
		tolerance:   cfg.Tolerance(),
		maxAttempts: cfg.MaxAttempts,
		log:         log,
	}
}

// Estimate blocks for about one window per attempt and returns the measured
// rate. ok is false when no trustworthy estimate could be made this cycle:
// every attempt drifted out of tolerance, the counters could not be read, an
// interface dropped in or out mid-window, or a counter went backwards.
func (e *Estimator) Estimate(ctx context.Context) (rate Rate, ok bool) {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.log.Debug("estimate attempt", zap.Int("attempt", attempt))

		a, err := e.sampler.Sample(ctx)
		if err != nil {
			e.log.Debug("reading initial counters failed", zap.Error(err))
			return Rate{}, false
		}
		start := e.clock.Now()

		e.clock.Sleep(e.target)
		elapsed := e.clock.Now().Sub(start)
		e.log.Debug("measured window", zap.Duration("elapsed", elapsed))

		if !e.inBand(elapsed) {
			e.log.Debug("window outside tolerance",
				zap.Duration("elapsed", elapsed),
				zap.Duration("target", e.target),
				zap.Duration("tolerance", e.tolerance))
			continue
		}

		b, err := e.sampler.Sample(ctx)
		if err != nil {
			e.log.Debug("reading final counters failed", zap.Error(err))
			return Rate{}, false
		}
		return e.convert(a, b, elapsed)
	}
	e.log.Debug("no in-tolerance window achieved, measurement discarded", zap.Int("attempts", e.maxAttempts))
	return Rate{}, false
}

func (e *Estimator) inBand(elapsed time.Duration) bool {
	return elapsed >= e.target-e.tolerance && elapsed <= e.target+e.tolerance
}

// convert turns two snapshots taken elapsed apart into truncated KiB/s.
func (e *Estimator) convert(a, b Counters, elapsed time.Duration) (Rate, bool) {
	if !slices.Equal(a.Failed, b.Failed) {
		e.log.Debug("interface set changed during window, measurement discarded",
			zap.Strings("before", a.Failed), zap.Strings("after", b.Failed))
		return Rate{}, false
	}
	if b.RxBytes < a.RxBytes || b.TxBytes < a.TxBytes {
		e.log.Debug("counter went backwards, measurement discarded",
			zap.Uint64("rx_before", a.RxBytes), zap.Uint64("rx_after", b.RxBytes),
			zap.Uint64("tx_before", a.TxBytes), zap.Uint64("tx_after", b.TxBytes))
		return Rate{}, false
	}

	secs := elapsed.Seconds()
	in := float64(b.RxBytes-a.RxBytes) / secs / 1024
	out := float64(b.TxBytes-a.TxBytes) / secs / 1024
	e.log.Debug("rate computed", zap.Float64("in_kib", in), zap.Float64("out_kib", out))
	return Rate{InKiB: int64(in), OutKiB: int64(out)}, true
}
