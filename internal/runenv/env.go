// Package runenv carries the resources a command builds once and hands to the
// pipeline it runs.
package runenv

import (
	"context"

	"github.com/go-sod/calib/internal/database"
	rundb "github.com/go-sod/calib/internal/run/database"
	"github.com/go-sod/calib/internal/sequence"
	"github.com/go-sod/calib/internal/tabular"
)

type Option func(*RunEnv) *RunEnv

func New(opts ...Option) *RunEnv {
	env := &RunEnv{}
	for _, f := range opts {
		env = f(env)
	}

	return env
}

type RunEnv struct {
	database *database.DB
	runs     *rundb.DB
	tabular  tabular.ProvideFn
	sequence sequence.ProvideFn
}

func (e *RunEnv) ProvideTabular() tabular.ProvideFn {
	return e.tabular
}

func (e *RunEnv) ProvideSequence() sequence.ProvideFn {
	return e.sequence
}

// Runs is nil when persistence is disabled.
func (e *RunEnv) Runs() *rundb.DB {
	return e.runs
}

func WithTabular(fn tabular.ProvideFn) Option {
	return func(e *RunEnv) *RunEnv {
		e.tabular = fn
		return e
	}
}

func WithSequence(fn sequence.ProvideFn) Option {
	return func(e *RunEnv) *RunEnv {
		e.sequence = fn
		return e
	}
}

func WithDatabase(db *database.DB) Option {
	return func(e *RunEnv) *RunEnv {
		e.database = db
		e.runs = rundb.New(db)
		return e
	}
}

func (e *RunEnv) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}

	if e.database != nil {
		return e.database.Close(ctx)
	}
	return nil
}
