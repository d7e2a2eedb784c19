package monitor

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// fakeBoard runs a clock at 2 ticks/us plus ppm, read against a fake host clock
type fakeBoard struct {
	wall  time.Time
	ticks uint64
	ppm   float64
	fail  bool
}

func (f *fakeBoard) TicksPerMicro() (uint32, error) { return 2, nil }

func (f *fakeBoard) GetCount(ctx context.Context) (uint64, error) {
	if f.fail {
		return 0, errors.New("timeout")
	}
	return f.ticks, nil
}

func (f *fakeBoard) advance(d time.Duration) {
	f.wall = f.wall.Add(d)
	ticks := 2 * float64(d/time.Microsecond)
	f.ticks += uint64(ticks) + uint64(ticks*f.ppm/1e6)
}

func newTestMonitor(t *testing.T, b *fakeBoard) *Monitor {
	t.Helper()
	m, err := New(b, time.Second)
	require.NoError(t, err)
	m.now = func() time.Time { return b.wall }
	return m
}

func TestDrift(t *testing.T) {
	require.InDelta(t, 0, Drift(2000000, 2, time.Second), 1e-9)
	require.InDelta(t, 50, Drift(2000100, 2, time.Second), 1e-6)
	require.InDelta(t, -100, Drift(1999800, 2, time.Second), 1e-6)
}

func TestPollTracksDrift(t *testing.T) {
	b := &fakeBoard{wall: time.Unix(1000, 0), ppm: 25}
	m := newTestMonitor(t, b)
	ctx := context.Background()

	_, err := m.Poll(ctx)
	require.NoError(t, err)
	n, _, _ := m.DriftStats()
	require.Zero(t, n, "one sample gives no interval yet")

	for i := 0; i < 10; i++ {
		b.advance(time.Second)
		_, err := m.Poll(ctx)
		require.NoError(t, err)
	}
	n, mean, stddev := m.DriftStats()
	require.Equal(t, 10, n)
	require.InDelta(t, 25, mean, 0.01)
	require.InDelta(t, 0, stddev, 0.01)

	require.InDelta(t, 25, testutil.ToFloat64(m.drift), 0.01)
	require.Equal(t, float64(b.ticks), testutil.ToFloat64(m.count))
	require.Equal(t, float64(b.ticks)/2, testutil.ToFloat64(m.micros))
}

func TestPollCountsFailuresAndResets(t *testing.T) {
	b := &fakeBoard{wall: time.Unix(1000, 0)}
	m := newTestMonitor(t, b)
	ctx := context.Background()

	b.advance(time.Hour)
	_, err := m.Poll(ctx)
	require.NoError(t, err)

	b.fail = true
	_, err = m.Poll(ctx)
	require.Error(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures))

	b.fail = false
	b.ticks = 10
	b.advance(time.Second)
	_, err = m.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(m.resets))
	n, _, _ := m.DriftStats()
	require.Zero(t, n, "a reset is not a drift sample")
}

func TestHandlerExposesMetrics(t *testing.T) {
	b := &fakeBoard{wall: time.Unix(1000, 0)}
	m := newTestMonitor(t, b)
	b.advance(time.Millisecond)
	_, err := m.Poll(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, "t2count_ticks 2000"), text)
	require.Contains(t, text, "t2count_read_seconds_bucket")
}

func TestRunStopsWithContext(t *testing.T) {
	b := &fakeBoard{wall: time.Unix(1000, 0)}
	m, err := New(b, time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
}

func TestNewRejectsBadInterval(t *testing.T) {
	_, err := New(&fakeBoard{}, 0)
	require.Error(t, err)
}
