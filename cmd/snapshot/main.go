// Command snapshot builds a schedule snapshot from a static GTFS zip. The
// snapshot keeps a rolling window of service dates so it stays small enough
// to ship with the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tripcards.app/gtfsdb"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/timeloc"
)

type options struct {
	source     string
	out        string
	days       int
	start      string
	zone       string
	authHeader string
	authValue  string
	verbose    bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.StringVar(&o.source, "gtfs", "", "static GTFS zip: local path or http(s) URL")
	fs.StringVar(&o.out, "out", "", "snapshot file to write")
	fs.IntVar(&o.days, "days", 30, "number of service dates to keep")
	fs.StringVar(&o.start, "start", "", "first service date kept, YYYY-MM-DD (default today)")
	fs.StringVar(&o.zone, "tz", timeloc.DefaultZone, "time zone that defines today")
	fs.StringVar(&o.authHeader, "auth-header", "", "header name sent with a URL source")
	fs.StringVar(&o.authValue, "auth-value", "", "header value sent with a URL source")
	fs.BoolVar(&o.verbose, "verbose", false, "log import progress")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.source == "" || o.out == "" {
		return o, errors.New("both -gtfs and -out are required")
	}
	if o.days <= 0 {
		return o, fmt.Errorf("-days must be positive, got %d", o.days)
	}
	return o, nil
}

func (o options) remote() bool {
	return strings.HasPrefix(o.source, "http://") || strings.HasPrefix(o.source, "https://")
}

// windowStart resolves the first kept service date in the configured zone.
func (o options) windowStart(now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(o.zone)
	if err != nil {
		return time.Time{}, err
	}
	if o.start == "" {
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation("2006-01-02", o.start, loc)
}

func run(ctx context.Context, o options, logger *slog.Logger) error {
	start, err := o.windowStart(time.Now())
	if err != nil {
		return fmt.Errorf("invalid window start: %w", err)
	}

	client, err := gtfsdb.NewClient(gtfsdb.Config{DBPath: o.out, Verbose: o.verbose})
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(client, logger, "snapshot_db")

	opts := gtfsdb.ImportOptions{WindowStart: start, Days: o.days}
	if o.remote() {
		err = client.DownloadAndStore(ctx, o.source, o.authHeader, o.authValue, opts)
	} else {
		err = client.ImportFromFile(ctx, o.source, opts)
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", o.source, err)
	}

	counts, err := client.TableCounts(ctx)
	if err != nil {
		return err
	}
	attrs := []slog.Attr{slog.String("out", o.out), slog.String("window_start", start.Format("2006-01-02")), slog.Int("days", o.days)}
	for table, n := range counts {
		attrs = append(attrs, slog.Int(table, n))
	}
	logging.LogOperation(logger, "snapshot_built", attrs...)
	return nil
}

func main() {
	logger := logging.New(os.Stderr, slog.LevelInfo)

	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger); err != nil {
		logging.LogError(logger, "snapshot build failed", err)
		os.Exit(1)
	}
}
