package gtfsdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcards.app/internal/appconf"
)

func TestImportPrunesToWindow(t *testing.T) {
	client, err := NewClient(Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	require.NoError(t, client.importBytes(ctx, buildTestFeed(t), "fixture", testWindow))

	counts, err := client.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts["stops"])
	assert.Equal(t, 1, counts["routes"])
	assert.Equal(t, 6, counts["trips"], "OLD service has no date in the window")
	assert.Equal(t, 15, counts["stop_times"])
	assert.Equal(t, 7, counts["services"], "4 weekdays without Wednesday plus the weekend and the added Wednesday")

	from, to, err := client.ServiceWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20240715, from)
	assert.Equal(t, 20240721, to)
}

func TestImportSkipsUnchangedFeed(t *testing.T) {
	client, err := NewClient(Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	feed := buildTestFeed(t)
	require.NoError(t, client.importBytes(ctx, feed, "fixture", testWindow))
	first, err := client.Queries.GetImportMetadata(ctx)
	require.NoError(t, err)

	require.NoError(t, client.importBytes(ctx, feed, "fixture", testWindow))
	second, err := client.Queries.GetImportMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ImportTime, second.ImportTime)

	shifted := testWindow
	shifted.WindowStart = shifted.WindowStart.AddDate(0, 0, 1)
	require.NoError(t, client.importBytes(ctx, feed, "fixture", shifted))
	third, err := client.Queries.GetImportMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20240716), third.WindowStart)
}

func TestNextTripsToDestination(t *testing.T) {
	client, err := OpenSnapshot(context.Background(), Config{DBPath: buildTestSnapshot(t)})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	assert.True(t, client.ReadOnly())

	ctx := context.Background()
	rows, err := client.Queries.NextTripsToDestination(ctx, NextTripsToDestinationParams{
		ServiceDate: 20240715, OriginStopID: "A", DestStopID: "B", AfterMinutes: 0, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "T1", rows[0].TripID)
	assert.Equal(t, int64(480), rows[0].OriginMinutes)
	assert.Equal(t, int64(490), rows[0].DestMinutes.Int64)
	assert.Equal(t, "T6", rows[2].TripID)
	assert.Equal(t, int64(1490), rows[2].OriginMinutes)
	assert.Equal(t, "Bravo", rows[0].Headsign.String)

	rows, err = client.Queries.NextTripsToDestination(ctx, NextTripsToDestinationParams{
		ServiceDate: 20240715, OriginStopID: "A", DestStopID: "B", AfterMinutes: 490, Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T2", rows[0].TripID)

	// B never follows A on the reverse trips, so B to A only sees direction 1.
	rows, err = client.Queries.NextTripsToDestination(ctx, NextTripsToDestinationParams{
		ServiceDate: 20240715, OriginStopID: "B", DestStopID: "A", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"T3", "T7"}, []string{rows[0].TripID, rows[1].TripID})

	rows, err = client.Queries.NextTripsToDestination(ctx, NextTripsToDestinationParams{
		ServiceDate: 20240717, OriginStopID: "A", DestStopID: "B", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T4", rows[0].TripID, "Wednesday runs the added weekend service only")

	rows, err = client.Queries.NextTripsToDestination(ctx, NextTripsToDestinationParams{
		ServiceDate: 20240715, OriginStopID: "A", DestStopID: "B", RouteID: "R9", Limit: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNextTripsInDirection(t *testing.T) {
	client, err := OpenSnapshot(context.Background(), Config{DBPath: buildTestSnapshot(t)})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	rows, err := client.Queries.NextTripsInDirection(ctx, NextTripsInDirectionParams{
		ServiceDate: 20240715, OriginStopID: "A", DirectionID: 1, Limit: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, rows, "direction 1 trips terminate at A")

	rows, err = client.Queries.NextTripsInDirection(ctx, NextTripsInDirectionParams{
		ServiceDate: 20240715, OriginStopID: "C", DirectionID: -1, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"T1", "T3", "T2"}, []string{rows[0].TripID, rows[1].TripID, rows[2].TripID})
	assert.False(t, rows[0].DestMinutes.Valid)
}

func TestGetStopName(t *testing.T) {
	client, err := OpenSnapshot(context.Background(), Config{DBPath: buildTestSnapshot(t)})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	name, err := client.Queries.GetStopName(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, "Charlie", name.String)
}

func TestOpenSnapshotMissingFile(t *testing.T) {
	_, err := OpenSnapshot(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "nope.db")})
	assert.True(t, errors.Is(err, ErrSnapshotUnavailable))
}

func TestOpenSnapshotRejectsNonSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	_, err := OpenSnapshot(context.Background(), Config{DBPath: path, ScratchDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrSnapshotUnavailable)
}

func TestOpenSnapshotCopiesOncePerProcess(t *testing.T) {
	path := buildTestSnapshot(t)
	scratch := t.TempDir()
	cfg := Config{DBPath: path, ScratchDir: scratch, AlwaysCopy: true}

	first, err := OpenSnapshot(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	second, err := OpenSnapshot(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	var copies int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			copies++
		}
	}
	assert.Equal(t, 1, copies)

	name, err := second.Queries.GetStopName(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", name.String)
}

func TestDownloadAndStoreRetriesServerErrors(t *testing.T) {
	orig := newDownloadBackOff
	newDownloadBackOff = func() *backoff.ExponentialBackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Millisecond
		b.MaxElapsedTime = time.Second
		return b
	}
	defer func() { newDownloadBackOff = orig }()

	feed := buildTestFeed(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(feed)
	}))
	defer server.Close()

	client, err := NewClient(Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.DownloadAndStore(context.Background(), server.URL, "x-api-key", "secret", testWindow)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	counts, err := client.TableCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, counts["trips"])
}

func TestDownloadAndStoreDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.DownloadAndStore(context.Background(), server.URL, "", "", testWindow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateDBRejectsRealPathInTests(t *testing.T) {
	_, err := NewClient(Config{DBPath: "/var/lib/tripcards/ferry.db", Env: appconf.Test})
	assert.Error(t, err)
}
