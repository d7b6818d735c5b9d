package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smabot/market"
)

func mkBar(sym string, ts string, close float64) market.Bar {
	t, _ := time.Parse(time.RFC3339, ts)
	return market.Bar{Symbol: sym, Time: t, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

func drain(t *testing.T, f BarFeed) []market.Bar {
	t.Helper()
	var out []market.Bar
	for {
		b, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestSliceFeed(t *testing.T) {
	bars := []market.Bar{
		mkBar("AAPL", "2024-01-02T14:30:00Z", 100),
		mkBar("AAPL", "2024-01-02T14:31:00Z", 101),
	}
	s := NewSlice(bars)
	got := drain(t, s)
	assert.Equal(t, bars, got)

	_, ok, err := s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestCSVFeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")

	data := "time,symbol,open,high,low,close,volume\n" +
		"2024-01-02T14:30:00Z,AAPL,100,101,99,100.5,5000\n" +
		"\n" +
		"2024-01-02T14:31:00Z,AAPL,100.5,102,100,101.5,6000\n" +
		"2024-01-02T14:32:00Z,AAPL,101.5,103,101,102.5,7000\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Run("reads all rows skipping header and blanks", func(t *testing.T) {
		f, err := NewCSVFeed(path, time.Time{}, time.Time{})
		require.NoError(t, err)
		defer f.Close()

		bars := drain(t, f)
		require.Len(t, bars, 3)
		assert.Equal(t, "AAPL", bars[0].Symbol)
		assert.Equal(t, 100.5, bars[0].Close)
		assert.Equal(t, 5000.0, bars[0].Volume)
		assert.Equal(t, 102.5, bars[2].Close)
	})

	t.Run("filters to half-open range", func(t *testing.T) {
		from, _ := time.Parse(time.RFC3339, "2024-01-02T14:31:00Z")
		to, _ := time.Parse(time.RFC3339, "2024-01-02T14:32:00Z")
		f, err := NewCSVFeed(path, from, to)
		require.NoError(t, err)
		defer f.Close()

		bars := drain(t, f)
		require.Len(t, bars, 1)
		assert.Equal(t, 101.5, bars[0].Close)
	})

	t.Run("rejects bad numeric field", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(bad, []byte("2024-01-02T14:30:00Z,AAPL,100,101,99,oops,5000\n"), 0o644))
		f, err := NewCSVFeed(bad, time.Time{}, time.Time{})
		require.NoError(t, err)
		defer f.Close()

		_, _, err = f.Next()
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewCSVFeed(filepath.Join(dir, "nope.csv"), time.Time{}, time.Time{})
		assert.Error(t, err)
	})
}

func TestWriteCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	bars := []market.Bar{
		mkBar("MSFT", "2024-03-01T15:00:00Z", 410.25),
		mkBar("MSFT", "2024-03-01T15:01:00Z", 411),
	}
	require.NoError(t, WriteCSV(path, bars))

	f, err := NewCSVFeed(path, time.Time{}, time.Time{})
	require.NoError(t, err)
	defer f.Close()

	got := drain(t, f)
	require.Len(t, got, 2)
	assert.Equal(t, bars[0].Close, got[0].Close)
	assert.True(t, bars[1].Time.Equal(got[1].Time))
}

type flakySource struct {
	failures int
	calls    int
	bar      market.Bar
}

func (f *flakySource) Latest(ctx context.Context, symbol string) (market.Bar, error) {
	f.calls++
	if f.calls <= f.failures {
		return market.Bar{}, errors.New("upstream down")
	}
	return f.bar, nil
}

func TestRetrying(t *testing.T) {
	bar := mkBar("AAPL", "2024-01-02T14:30:00Z", 100)

	t.Run("succeeds within retry budget", func(t *testing.T) {
		src := &flakySource{failures: 2, bar: bar}
		r := &Retrying{Source: src, Retries: 2, Backoff: time.Millisecond}

		got, err := r.Latest(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, bar, got)
		assert.Equal(t, 3, src.calls)
	})

	t.Run("returns last error after retries exhausted", func(t *testing.T) {
		src := &flakySource{failures: 10, bar: bar}
		r := &Retrying{Source: src, Retries: 2, Backoff: time.Millisecond}

		_, err := r.Latest(context.Background(), "AAPL")
		assert.Error(t, err)
		assert.Equal(t, 3, src.calls)
	})

	t.Run("zero retries means single attempt", func(t *testing.T) {
		src := &flakySource{failures: 1, bar: bar}
		r := &Retrying{Source: src, Retries: 0, Backoff: time.Millisecond}

		_, err := r.Latest(context.Background(), "AAPL")
		assert.Error(t, err)
		assert.Equal(t, 1, src.calls)
	})

	t.Run("cancelled context stops backoff wait", func(t *testing.T) {
		src := &flakySource{failures: 10, bar: bar}
		r := &Retrying{Source: src, Retries: 5, Backoff: time.Hour}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Latest(ctx, "AAPL")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, src.calls)
	})
}
