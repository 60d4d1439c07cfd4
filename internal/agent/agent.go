package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vesaa/bwrecord/internal/config"
	"github.com/vesaa/bwrecord/internal/feed"
	"github.com/vesaa/bwrecord/internal/store"
)

// RateEstimator yields one rate per call, or ok=false for a skipped cycle.
type RateEstimator interface {
	Estimate(ctx context.Context) (Rate, bool)
}

// Appender receives finished site log lines.
type Appender interface {
	Append(line string) error
}

// Agent compares fresh estimates with the stored records and announces
// every record it breaks.
type Agent struct {
	est   RateEstimator
	store store.Store
	feed  Appender
	clock clock.Clock
	pace  time.Duration
	log   *zap.Logger
}

// New wires an Agent. pace is the minimum length of one cycle, so a cycle
// that fails instantly does not spin.
func New(est RateEstimator, st store.Store, f Appender, clk clock.Clock, pace time.Duration, log *zap.Logger) *Agent {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{est: est, store: st, feed: f, clock: clk, pace: pace, log: log}
}

// Run opens the record store and site log described by cfg and records
// until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	src, err := NewSource(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer st.Close()

	clk := clock.New()
	est := NewEstimator(NewCollector(cfg.Interfaces, src, log), clk, cfg, log)
	site := feed.New(afero.NewOsFs(), cfg.LogFile, cfg.LogLineEnding)

	log.Info("recording bandwidth",
		zap.Strings("interfaces", cfg.Interfaces),
		zap.String("source", cfg.CounterSource),
		zap.String("store", cfg.StoreDriver),
		zap.String("site_log", cfg.LogFile))

	New(est, st, site, clk, cfg.SampleDuration(), log).Loop(ctx)
	log.Info("stopped")
	return nil
}

// Loop runs cycles back to back until ctx is done. Cancellation is seen
// between cycles; a measurement window in progress is not interrupted.
func (a *Agent) Loop(ctx context.Context) {
	for ctx.Err() == nil {
		started := a.clock.Now()
		a.Cycle(ctx)

		if rest := a.pace - a.clock.Since(started); rest > 0 {
			select {
			case <-ctx.Done():
			case <-a.clock.After(rest):
			}
		}
	}
}

// Cycle performs one read-estimate-compare round and returns the records
// it broke, in store.Kinds order.
func (a *Agent) Cycle(ctx context.Context) []store.Kind {
	started := a.clock.Now()
	a.log.Debug("cycle start", zap.String("time", feed.Ctime(started)))

	old := make(map[store.Kind]int64, len(store.Kinds))
	for _, k := range store.Kinds {
		v, err := a.store.Read(k)
		if err != nil {
			a.log.Debug("reading record failed, assuming 0", zap.String("record", string(k)), zap.Error(err))
			v = 0
		}
		a.log.Debug("record read", zap.String("record", string(k)), zap.Int64("kib", v))
		old[k] = v
	}

	rate, ok := a.est.Estimate(ctx)
	if !ok {
		a.log.Debug("invalid measurement, skipping update")
		return nil
	}

	current := map[store.Kind]int64{
		store.Up:    rate.InKiB,
		store.Dn:    rate.OutKiB,
		store.Total: rate.InKiB + rate.OutKiB,
	}

	var broken []store.Kind
	for _, k := range store.Kinds {
		if current[k] <= old[k] {
			continue
		}
		a.announce(started, k, current[k], old[k])
		broken = append(broken, k)
	}
	return broken
}

// announce persists a new record and appends its log line. The old set-at
// time is captured before the write replaces it.
func (a *Agent) announce(at time.Time, k store.Kind, cur, old int64) {
	oldSetAt := feed.SetAt(a.store.SetAt(k))

	if err := a.store.Write(k, cur); err != nil {
		a.log.Debug("writing record failed", zap.String("record", string(k)), zap.Error(err))
	} else {
		a.log.Debug("record written", zap.String("record", string(k)), zap.Int64("kib", cur))
	}

	line := feed.RecordLine(at, k.Label(), cur, old, oldSetAt)
	if err := a.feed.Append(line); err != nil {
		a.log.Debug("appending site log failed", zap.Error(err))
		return
	}
	a.log.Info("new record",
		zap.String("record", k.Label()),
		zap.Int64("kib", cur),
		zap.Int64("old_kib", old))
}
