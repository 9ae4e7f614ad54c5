package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/deferrals/cmd/odyssey/cli"
	"github.com/odyssey-erp/deferrals/internal/app"
	"github.com/odyssey-erp/deferrals/internal/deferral"
)

const usage = `usage:
  odyssey                                   start the HTTP server
  odyssey deferral preview [flags]          print the entries one line would generate
  odyssey jobs trigger deferral:generate [--company N] [--direction D] [--lines 1,2]
  odyssey jobs stats                        show default queue statistics
  odyssey jobs failed [--limit N]           list archived deferral generation runs
  odyssey jobs retry <task-id>              requeue an archived run`

func runCommand(args []string) int {
	ctx := context.Background()
	switch args[0] {
	case "deferral":
		if len(args) < 2 || args[1] != "preview" {
			_, _ = fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		return runDeferralPreview(ctx, args[2:], os.Stdout, os.Stderr)
	case "jobs":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		return runJobs(ctx, args[1:], os.Stdout, os.Stderr)
	case "-h", "--help", "help":
		_, _ = fmt.Fprintln(os.Stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
}

func runDeferralPreview(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("deferral preview", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.DeferralPreviewOptions{Stdout: stdout, Stderr: stderr}
	fs.StringVar(&opts.Direction, "direction", "expense", "expense or revenue")
	fs.StringVar(&opts.Method, "method", "month", "day, month or full_months")
	fs.StringVar(&opts.Currency, "currency", "", "ISO 4217 currency code (defaults to DEFERRAL_DEFAULT_CURRENCY)")
	fs.StringVar(&opts.Start, "start", "", "first day of the deferral (YYYY-MM-DD)")
	fs.StringVar(&opts.End, "end", "", "last day of the deferral (YYYY-MM-DD)")
	fs.StringVar(&opts.Date, "date", "", "accounting date of the origin line (defaults to --start)")
	fs.StringVar(&opts.Balance, "balance", "", "signed line balance, debit positive")
	fs.Int64Var(&opts.AccountID, "account", 1, "origin account id")
	fs.Int64Var(&opts.DeferredAccountID, "deferred-account", 2, "deferred expense or revenue account id")
	fs.StringVar(&opts.JournalCode, "journal", "MISC", "journal code")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	service := deferral.NewService(nil, nil, nil, deferral.ServiceConfig{
		Logger:          app.NewLoggerTo(stderr, cfg, "cli").With(slog.String("command", "deferral preview")),
		DefaultCurrency: cfg.DeferralDefaultCurrency,
	})
	command, err := cli.NewDeferralCLI(service)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	return command.PreviewCommand(ctx, opts)
}

func runJobs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisOptions().AsynqOpt())
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		var opts cli.TriggerOptions
		var lines string
		fs.Int64Var(&opts.CompanyID, "company", 0, "company id, 0 for every configured company")
		fs.StringVar(&opts.Direction, "direction", "", "expense or revenue, empty for both")
		fs.StringVar(&lines, "lines", "", "comma separated origin line ids")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		ids, err := parseIDs(lines)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		opts.LineIDs = ids
		info, err := jobsCLI.Trigger(ctx, args[1], opts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	case "failed":
		fs := flag.NewFlagSet("jobs failed", flag.ContinueOnError)
		fs.SetOutput(stderr)
		limit := fs.Int("limit", 20, "maximum tasks to list")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := jobsCLI.ListFailed(ctx, *limit)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs failed: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", t.ID, t.LastFailedAt.Format(time.RFC3339), t.Payload, t.LastErr)
		}
		return 0
	case "retry":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, usage)
			return 2
		}
		if err := jobsCLI.Retry(ctx, args[1]); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs retry: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "requeued %s\n", args[1])
		return 0
	default:
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
}

func parseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid line id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
