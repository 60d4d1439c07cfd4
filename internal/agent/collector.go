// Package agent implements the bwrecord sampling subsystem and daemon loop.
// Interface byte counters come from sysfs by default, or from gopsutil on
// hosts without /sys/class/net.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v4/net"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vesaa/bwrecord/internal/config"
)

// ErrNoCounters means not a single configured interface could be read.
var ErrNoCounters = errors.New("no interface counters readable")

// Counters is a summed snapshot of cumulative interface byte counters.
type Counters struct {
	RxBytes uint64
	TxBytes uint64
	// Failed lists, in configuration order, the interfaces that contributed
	// zero to this snapshot because they could not be read.
	Failed []string
}

// CounterSource reads the cumulative rx/tx byte counters of one interface.
type CounterSource interface {
	ReadInterface(ctx context.Context, iface string) (rx, tx uint64, err error)
}

// NewSource returns the counter source selected by cfg.CounterSource.
func NewSource(cfg config.Config) (CounterSource, error) {
	switch cfg.CounterSource {
	case config.SourceSysfs, "":
		return SysfsSource{Root: cfg.SysfsRoot}, nil
	case config.SourcePsutil:
		return PsutilSource{}, nil
	default:
		return nil, fmt.Errorf("unsupported counter_source %q", cfg.CounterSource)
	}
}

// Collector sums interface counters over a fixed list of interfaces.
type Collector struct {
	ifaces []string
	src    CounterSource
	log    *zap.Logger
}

// NewCollector creates a Collector for ifaces. The slice is copied.
func NewCollector(ifaces []string, src CounterSource, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		ifaces: append([]string(nil), ifaces...),
		src:    src,
		log:    log,
	}
}

// Sample reads every interface once and sums the counters. An interface that
// cannot be read contributes zero; only when all of them fail is an error
// returned, wrapping ErrNoCounters and the individual causes.
func (c *Collector) Sample(ctx context.Context) (Counters, error) {
	var (
		snap Counters
		errs error
	)
	for _, iface := range c.ifaces {
		rx, tx, err := c.src.ReadInterface(ctx, iface)
		if err != nil {
			c.log.Debug("interface unreadable, counting as zero", zap.String("iface", iface), zap.Error(err))
			snap.Failed = append(snap.Failed, iface)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", iface, err))
			continue
		}
		snap.RxBytes += rx
		snap.TxBytes += tx
	}
	if len(snap.Failed) == len(c.ifaces) {
		return Counters{}, fmt.Errorf("%w: %w", ErrNoCounters, errs)
	}
	c.log.Debug("counters sampled",
		zap.Uint64("rx_bytes", snap.RxBytes),
		zap.Uint64("tx_bytes", snap.TxBytes),
		zap.Strings("failed", snap.Failed))
	return snap, nil
}

// ─── sources ──────────────────────────────────────────────────────────────────

// SysfsSource reads <Root>/<iface>/statistics/{rx,tx}_bytes.
type SysfsSource struct {
	Root string
}

// ReadInterface implements CounterSource.
func (s SysfsSource) ReadInterface(_ context.Context, iface string) (uint64, uint64, error) {
	dir := filepath.Join(s.Root, iface, "statistics")
	rx, err := readCounter(filepath.Join(dir, "rx_bytes"))
	if err != nil {
		return 0, 0, err
	}
	tx, err := readCounter(filepath.Join(dir, "tx_bytes"))
	if err != nil {
		return 0, 0, err
	}
	return rx, tx, nil
}

// readCounter parses a decimal counter file such as rx_bytes.
func readCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}

// PsutilSource reads per-NIC counters through gopsutil.
type PsutilSource struct{}

// ReadInterface implements CounterSource.
func (PsutilSource) ReadInterface(ctx context.Context, iface string) (uint64, uint64, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return 0, 0, err
	}
	for _, st := range stats {
		if st.Name == iface {
			return st.BytesRecv, st.BytesSent, nil
		}
	}
	return 0, 0, fmt.Errorf("interface %q not found", iface)
}
