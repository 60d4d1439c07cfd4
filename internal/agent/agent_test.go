package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/bwrecord/internal/feed"
	"github.com/vesaa/bwrecord/internal/store"
)

type fixedEstimator struct {
	rates []Rate // noEstimate entries report ok=false
	calls int
	after func(call int)
}

var noEstimate = Rate{InKiB: -1, OutKiB: -1}

func (f *fixedEstimator) Estimate(context.Context) (Rate, bool) {
	i := f.calls
	f.calls++
	if f.after != nil {
		defer f.after(f.calls)
	}
	if i >= len(f.rates) {
		i = len(f.rates) - 1
	}
	if f.rates[i] == noEstimate {
		return Rate{}, false
	}
	return f.rates[i], true
}

type failingAppender struct{ calls int }

func (f *failingAppender) Append(string) error {
	f.calls++
	return errors.New("disk full")
}

type harness struct {
	fs    afero.Fs
	store *store.FileStore
	clock *clock.Mock
}

const siteLog = "/logs/glftpd.log"

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/misc", 0o755))
	require.NoError(t, fs.MkdirAll("/logs", 0o755))
	st, err := store.NewFileStore(fs, map[store.Kind]string{
		store.Up:    "/misc/gl_bw_up.stat",
		store.Dn:    "/misc/gl_bw_dn.stat",
		store.Total: "/misc/gl_bw_to.stat",
	})
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 3, 9, 5, 0, 0, time.UTC))
	return &harness{fs: fs, store: st, clock: clk}
}

func (h *harness) agent(est RateEstimator) *Agent {
	return New(est, h.store, feed.New(h.fs, siteLog, ""), h.clock, 0, nil)
}

func (h *harness) logLines(t *testing.T) []string {
	t.Helper()
	data, err := afero.ReadFile(h.fs, siteLog)
	if errors.Is(err, afero.ErrFileNotFound) {
		return nil
	}
	require.NoError(t, err)
	lines := strings.Split(string(data), "\r\n")
	return lines[:len(lines)-1]
}

func (h *harness) record(t *testing.T, k store.Kind) int64 {
	t.Helper()
	v, err := h.store.Read(k)
	require.NoError(t, err)
	return v
}

func TestAgent_Cycle_NewUpRecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(store.Up, 80))
	require.NoError(t, h.store.Write(store.Dn, 500))
	require.NoError(t, h.store.Write(store.Total, 1000))
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	require.NoError(t, h.fs.Chtimes("/misc/gl_bw_up.stat", when, when))

	broken := h.agent(&fixedEstimator{rates: []Rate{{InKiB: 95, OutKiB: 10}}}).Cycle(context.Background())

	assert.Equal(t, []store.Kind{store.Up}, broken)
	assert.Equal(t, int64(95), h.record(t, store.Up))
	assert.Equal(t, int64(500), h.record(t, store.Dn))
	assert.Equal(t, int64(1000), h.record(t, store.Total))

	lines := h.logLines(t)
	require.Len(t, lines, 1)
	assert.Equal(t,
		"Sun Mar  3 09:05:00 2024 BWRECORD: \"\x037[\x0314BWRECORD\x037] - \x037[\x0314UP\x037]\x030: 0.09MB/s - (old: 0.08MB/s set at: Fri Mar  1 12:30:00 2024)\"",
		lines[0])
}

func TestAgent_Cycle_EqualIsNotARecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(store.Up, 80))
	require.NoError(t, h.store.Write(store.Dn, 20))
	require.NoError(t, h.store.Write(store.Total, 100))

	broken := h.agent(&fixedEstimator{rates: []Rate{{InKiB: 80, OutKiB: 20}}}).Cycle(context.Background())

	assert.Empty(t, broken)
	assert.Equal(t, int64(80), h.record(t, store.Up))
	assert.Empty(t, h.logLines(t))
}

func TestAgent_Cycle_FirstRunBreaksEverything(t *testing.T) {
	h := newHarness(t)

	broken := h.agent(&fixedEstimator{rates: []Rate{{InKiB: 300, OutKiB: 200}}}).Cycle(context.Background())

	assert.Equal(t, []store.Kind{store.Up, store.Dn, store.Total}, broken)
	assert.Equal(t, int64(300), h.record(t, store.Up))
	assert.Equal(t, int64(200), h.record(t, store.Dn))
	assert.Equal(t, int64(500), h.record(t, store.Total))

	lines := h.logLines(t)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "\x0314UP\x037]")
	assert.Contains(t, lines[1], "\x0314DN\x037]")
	assert.Contains(t, lines[2], "\x0314TOTAL\x037]\x030: 0.49MB/s - (old: 0.00MB/s set at: N/A)")
}

func TestAgent_Cycle_TotalOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(store.Up, 100))
	require.NoError(t, h.store.Write(store.Dn, 100))
	require.NoError(t, h.store.Write(store.Total, 150))

	broken := h.agent(&fixedEstimator{rates: []Rate{{InKiB: 90, OutKiB: 90}}}).Cycle(context.Background())

	assert.Equal(t, []store.Kind{store.Total}, broken)
	assert.Equal(t, int64(180), h.record(t, store.Total))
}

func TestAgent_Cycle_NoEstimate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(store.Up, 80))

	broken := h.agent(&fixedEstimator{rates: []Rate{noEstimate}}).Cycle(context.Background())

	assert.Nil(t, broken)
	assert.Equal(t, int64(80), h.record(t, store.Up))
	assert.Empty(t, h.logLines(t))
}

func TestAgent_Cycle_UnreadableRecordCountsAsZero(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, "/misc/gl_bw_dn.stat", []byte("corrupt\n"), 0o644))
	require.NoError(t, h.store.Write(store.Up, 1000))
	require.NoError(t, h.store.Write(store.Total, 1000))

	broken := h.agent(&fixedEstimator{rates: []Rate{{InKiB: 0, OutKiB: 5}}}).Cycle(context.Background())

	assert.Equal(t, []store.Kind{store.Dn}, broken)
	assert.Equal(t, int64(5), h.record(t, store.Dn))
}

func TestAgent_Cycle_LogFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	app := &failingAppender{}
	a := New(&fixedEstimator{rates: []Rate{{InKiB: 10, OutKiB: 10}}}, h.store, app, h.clock, 0, nil)

	broken := a.Cycle(context.Background())

	assert.Len(t, broken, 3)
	assert.Equal(t, 3, app.calls)
	assert.Equal(t, int64(20), h.record(t, store.Total))
}

func TestAgent_Cycle_WriteFailureStillLogs(t *testing.T) {
	h := newHarness(t)
	ro, err := store.NewFileStore(afero.NewReadOnlyFs(h.fs), map[store.Kind]string{
		store.Up:    "/misc/gl_bw_up.stat",
		store.Dn:    "/misc/gl_bw_dn.stat",
		store.Total: "/misc/gl_bw_to.stat",
	})
	require.NoError(t, err)
	a := New(&fixedEstimator{rates: []Rate{{InKiB: 10, OutKiB: 0}}}, ro, feed.New(h.fs, siteLog, ""), h.clock, 0, nil)

	broken := a.Cycle(context.Background())

	assert.Equal(t, []store.Kind{store.Up, store.Total}, broken)
	assert.Len(t, h.logLines(t), 2)
}

func TestAgent_Loop_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	est := &fixedEstimator{
		rates: []Rate{{InKiB: 10, OutKiB: 10}, {InKiB: 20, OutKiB: 5}, noEstimate},
		after: func(call int) {
			if call == 3 {
				cancel()
			}
		},
	}
	h.agent(est).Loop(ctx)

	assert.Equal(t, 3, est.calls)
	assert.Equal(t, int64(20), h.record(t, store.Up))
	assert.Equal(t, int64(10), h.record(t, store.Dn))
	assert.Equal(t, int64(25), h.record(t, store.Total))
	// cycle 1 breaks all three, cycle 2 breaks up and total
	assert.Len(t, h.logLines(t), 5)
}

func TestAgent_Loop_PacedCycleHonoursCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	est := &fixedEstimator{rates: []Rate{noEstimate}, after: func(int) { cancel() }}
	a := New(est, h.store, feed.New(h.fs, siteLog, ""), h.clock, 2*time.Second, nil)

	done := make(chan struct{})
	go func() {
		a.Loop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.Equal(t, 1, est.calls)
}
