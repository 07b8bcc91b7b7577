package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/go-sod/calib/internal/buildinfo"
	"github.com/go-sod/calib/internal/config"
	"github.com/go-sod/calib/internal/logging"
	"github.com/go-sod/calib/internal/sequence"
	"github.com/go-sod/calib/internal/setup"
	"github.com/go-sod/calib/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprint(os.Stdout, buildinfo.Graffiti)
	_, _ = fmt.Fprint(os.Stdout, buildinfo.Info.Banner("sequence"))

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
	cfg := config.Sequence{}
	env, err := setup.Setup(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer func() {
		if err := env.Close(ctx); err != nil {
			logger.Errorf("env.Close: %v", err)
		}
	}()

	pipeline, err := env.ProvideSequence()()
	if err != nil {
		return fmt.Errorf("sequence provider function error: %w", err)
	}
	report, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline.Run: %w", err)
	}

	for _, name := range []string{sequence.PartitionTrain, sequence.PartitionTest, sequence.PartitionValidation} {
		for j, b := range report.Metrics[name] {
			logger.Infof("%-10s %-12s %v", name, report.Channels[j], b)
		}
	}
	if report.RunID != uuid.Nil {
		logger.Infof("run id %s", report.RunID)
	}
	return nil
}
