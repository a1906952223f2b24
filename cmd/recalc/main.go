// Command recalc rewrites the derived pillar and CSI columns of scored
// analyses after a scoring parameter change, then refreshes the metric
// cache. Micro-metrics and time metrics are never touched, so the command
// is safe to run while uploads are processing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/powerpulse/powerpulse/internal/adapter/observability"
	"github.com/powerpulse/powerpulse/internal/adapter/repo/postgres"
	"github.com/powerpulse/powerpulse/internal/config"
	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "compute and report changes without writing")
	sinceArg := flag.String("since", "", "only rescore analyses dated on or after this UTC date (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	var since time.Time
	if *sinceArg != "" {
		since, err = time.Parse("2006-01-02", *sinceArg)
		if err != nil {
			slog.Error("invalid -since, want YYYY-MM-DD", slog.String("since", *sinceArg))
			os.Exit(2)
		}
	}

	params, err := config.LoadScoringParams(cfg.ScoringConfigPath)
	if err != nil {
		slog.Error("scoring config invalid", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	analyses := postgres.NewAnalysisRepo(pool)
	total, updated, err := recalc(ctx, analyses, usecase.NewCalculator(params), since, *dryRun)
	if err != nil {
		slog.Error("recalculation failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("recalculation finished",
		slog.Int("rows", total),
		slog.Int("updated", updated),
		slog.Bool("dry_run", *dryRun))

	if *dryRun {
		return
	}
	metricsSvc := usecase.NewMetricsService(analyses, postgres.NewMetricRepo(pool))
	if _, err := metricsSvc.Recalculate(ctx); err != nil {
		slog.Error("metric cache refresh failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// recalc rederives the pillar scores of every scored row and writes back the
// ones that changed. It returns how many rows were examined and rewritten.
func recalc(ctx context.Context, analyses domain.AnalysisStore, calc usecase.Calculator, since time.Time, dryRun bool) (int, int, error) {
	rows, err := analyses.ListScored(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	updated := 0
	for _, row := range rows {
		rec, ok := recordFrom(row)
		if !ok {
			continue
		}
		tm := usecase.TimeMetrics{
			FirstResponseSec: row.FirstResponseTime,
			AvgResponseSec:   row.AvgResponseTime,
			HandlingMin:      row.TotalHandlingTime,
		}
		d := calc.Derive(rec, tm)
		if sameDerived(row, d) {
			continue
		}
		if !dryRun {
			if err := analyses.UpdateDerived(ctx, row.ID, d); err != nil {
				return len(rows), updated, fmt.Errorf("update %s: %w", row.ID, err)
			}
		}
		updated++
	}
	return len(rows), updated, nil
}

// recordFrom reassembles the stored micro-metrics. Rows missing any of them
// were never scored and are skipped.
func recordFrom(d domain.DailyAnalysis) (domain.AnalysisRecord, bool) {
	if d.SentimentScore == nil || d.SentimentShift == nil || d.ResolutionAchieved == nil || d.FCRScore == nil || d.CES == nil {
		return domain.AnalysisRecord{}, false
	}
	return domain.AnalysisRecord{
		SentimentScore:     *d.SentimentScore,
		SentimentShift:     *d.SentimentShift,
		ResolutionAchieved: *d.ResolutionAchieved,
		FCRScore:           *d.FCRScore,
		CES:                *d.CES,
		Error:              d.AnalysisError,
	}, true
}

func sameDerived(row domain.DailyAnalysis, d domain.DerivedScores) bool {
	eq := func(a, b *float64) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	}
	return eq(row.EffectivenessScore, d.EffectivenessScore) &&
		eq(row.EffortScore, d.EffortScore) &&
		eq(row.EfficiencyScore, d.EfficiencyScore) &&
		eq(row.EmpathyScore, d.EmpathyScore) &&
		eq(row.CSIScore, d.CSIScore)
}
