package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/go-sod/calib/internal/buildinfo"
	"github.com/go-sod/calib/internal/config"
	"github.com/go-sod/calib/internal/logging"
	"github.com/go-sod/calib/internal/setup"
	"github.com/go-sod/calib/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprint(os.Stdout, buildinfo.Graffiti)
	_, _ = fmt.Fprint(os.Stdout, buildinfo.Info.Banner("tabular"))

	ctx, done := shutdown.New()
	logger := logging.FromContext(ctx)
	err := run(ctx)
	done()
	if err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	cfg := config.Tabular{}
	env, err := setup.Setup(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer func() {
		if err := env.Close(ctx); err != nil {
			logger.Errorf("env.Close: %v", err)
		}
	}()

	pipeline, err := env.ProvideTabular()()
	if err != nil {
		return fmt.Errorf("tabular provider function error: %w", err)
	}
	report, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline.Run: %w", err)
	}

	logger.Infof("best architecture %v, test rmse %.6g", report.Search.Best, report.Search.RMSE)
	names := make([]string, 0, len(report.Metrics))
	for name := range report.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Infof("%-10s %v", name, report.Metrics[name])
	}
	if report.RunID != uuid.Nil {
		logger.Infof("run id %s", report.RunID)
	}
	return nil
}
