// Package setup processes the environment into a RunEnv. The root config
// struct opts into each resource by implementing its provider interface.
package setup

import (
	"context"
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/go-sod/calib/internal/database"
	"github.com/go-sod/calib/internal/logging"
	"github.com/go-sod/calib/internal/runenv"
	"github.com/go-sod/calib/internal/sequence"
	"github.com/go-sod/calib/internal/tabular"
)

type DatabaseConfigProvider interface {
	DatabaseConfig() *database.Config
}

type TabularConfigProvider interface {
	TabularConfig() *tabular.Config
}

type SequenceConfigProvider interface {
	SequenceConfig() *sequence.Config
}

func Setup(ctx context.Context, config interface{}) (*runenv.RunEnv, error) {
	logger := logging.FromContext(ctx)
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var (
		envOpts []runenv.Option
		db      *database.DB
	)
	if provider, ok := config.(DatabaseConfigProvider); ok && provider.DatabaseConfig().Enabled() {
		logger.Info("configuring run database")
		dbFromEnv, err := database.NewFromEnv(ctx, provider.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w", err)
		}
		db = dbFromEnv
		envOpts = append(envOpts, runenv.WithDatabase(db))
	}
	env := runenv.New(envOpts...)

	var store tabular.RunStore
	if runs := env.Runs(); runs != nil {
		store = runs
	}

	if provider, ok := config.(TabularConfigProvider); ok {
		logger.Info("configuring tabular pipeline")
		provideFn, err := ProvideTabularFor(provider, store)
		if err != nil {
			_ = env.Close(ctx)
			return nil, fmt.Errorf("unable create tabular provide function: %w", err)
		}
		env = runenv.WithTabular(provideFn)(env)
	}

	if provider, ok := config.(SequenceConfigProvider); ok {
		logger.Info("configuring sequence pipeline")
		provideFn, err := ProvideSequenceFor(provider, store)
		if err != nil {
			_ = env.Close(ctx)
			return nil, fmt.Errorf("unable create sequence provide function: %w", err)
		}
		env = runenv.WithSequence(provideFn)(env)
	}

	return env, nil
}

// ProvideTabularFor merges the grid file and validates the configuration
// up front so a bad setup fails before any data is read.
func ProvideTabularFor(provider TabularConfigProvider, store tabular.RunStore) (tabular.ProvideFn, error) {
	cfg := provider.TabularConfig()
	if err := cfg.LoadGridFile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func() (*tabular.Pipeline, error) {
		var opts []tabular.Option
		if store != nil {
			opts = append(opts, tabular.WithRunStore(store))
		}
		return tabular.New(*cfg, opts...)
	}, nil
}

func ProvideSequenceFor(provider SequenceConfigProvider, store sequence.RunStore) (sequence.ProvideFn, error) {
	cfg := provider.SequenceConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func() (*sequence.Pipeline, error) {
		var opts []sequence.Option
		if store != nil {
			opts = append(opts, sequence.WithRunStore(store))
		}
		return sequence.New(*cfg, opts...)
	}, nil
}
