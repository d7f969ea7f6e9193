package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobsift/config"
	"jobsift/core/port/out"
	"jobsift/internal/bootstrap"
	"jobsift/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if exists (for local development)
	_ = godotenv.Load()

	mode := flag.String("mode", "sync", "Run mode: sync, review")
	query := flag.String("query", "", "Override the provider search query")
	days := flag.Int("days", 0, "Override the sync window in days")
	approve := flag.String("approve", "", "Review mode: approve the record with this message id")
	reject := flag.String("reject", "", "Review mode: reject the record with this message id")
	reviewer := flag.String("reviewer", "cli", "Review mode: reviewer name recorded on the decision")
	note := flag.String("note", "", "Review mode: optional note recorded on the decision")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	app, cleanup, err := bootstrap.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer cleanup()

	// Cooperative cancellation: a second signal kills the process outright.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "sync":
		runSync(ctx, app, cfg, *query, *days)
	case "review":
		runReview(ctx, app, *approve, *reject, *reviewer, *note)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runSync(ctx context.Context, app *bootstrap.App, cfg *config.Config, query string, days int) {
	if query == "" {
		query = cfg.GmailQuery
	}
	if days <= 0 {
		days = cfg.SyncWindowDays
	}

	summary, err := app.Runner.Sync(ctx, &out.MessageQuery{
		Query:    query,
		After:    time.Now().AddDate(0, 0, -days),
		PageSize: cfg.BatchSize,
	})
	if err != nil {
		app.Log.Error().Err(err).Msg("sync failed")
		os.Exit(1)
	}

	fmt.Printf("fetched %d, classified %d, skipped %d existing, %d digests filtered\n",
		summary.Total, summary.Classified, summary.SkippedExisting, summary.DigestFiltered)
	fmt.Printf("jobs: %d created, %d merged; %d flagged for review\n",
		summary.JobsCreated, summary.JobsMerged, summary.NeedsReview)
}

func runReview(ctx context.Context, app *bootstrap.App, approve, reject, reviewer, note string) {
	switch {
	case approve != "":
		if err := app.Review.Apply(ctx, approve, true, reviewer, note); err != nil {
			app.Log.Error().Err(err).Str("message_id", approve).Msg("approve failed")
			os.Exit(1)
		}
		fmt.Printf("approved %s\n", approve)
	case reject != "":
		if err := app.Review.Apply(ctx, reject, false, reviewer, note); err != nil {
			app.Log.Error().Err(err).Str("message_id", reject).Msg("reject failed")
			os.Exit(1)
		}
		fmt.Printf("rejected %s\n", reject)
	default:
		pending, err := app.Review.Pending(ctx)
		if err != nil {
			app.Log.Error().Err(err).Msg("failed to list pending reviews")
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println("no records awaiting review")
			return
		}
		for _, rec := range pending {
			employer, role := "?", "?"
			if rec.Fields != nil {
				if rec.Fields.Employer != "" {
					employer = rec.Fields.Employer
				}
				if rec.Fields.Role != "" {
					role = rec.Fields.Role
				}
			}
			fmt.Printf("%s  %-24s  %-32s  reason=%s prob=%.2f\n",
				rec.MessageID, employer, role, rec.ExitReason, rec.Probability)
		}
	}
}
