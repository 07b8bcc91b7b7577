// Package config holds the root configuration of each command.
package config

import (
	"github.com/go-sod/calib/internal/database"
	"github.com/go-sod/calib/internal/sequence"
	"github.com/go-sod/calib/internal/setup"
	"github.com/go-sod/calib/internal/tabular"
)

var (
	_ setup.DatabaseConfigProvider = (*Tabular)(nil)
	_ setup.TabularConfigProvider  = (*Tabular)(nil)
	_ setup.DatabaseConfigProvider = (*Sequence)(nil)
	_ setup.SequenceConfigProvider = (*Sequence)(nil)
	_ setup.DatabaseConfigProvider = (*Runs)(nil)
)

type Tabular struct {
	Database database.Config
	Pipeline tabular.Config
}

func (c *Tabular) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Tabular) TabularConfig() *tabular.Config {
	return &c.Pipeline
}

type Sequence struct {
	Database database.Config
	Pipeline sequence.Config
}

func (c *Sequence) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Sequence) SequenceConfig() *sequence.Config {
	return &c.Pipeline
}

// Runs configures the run listing command.
type Runs struct {
	Kind string `envconfig:"CALIB_RUNS_KIND"`
	// Delete removes the run with this id before listing.
	Delete   string `envconfig:"CALIB_RUNS_DELETE"`
	Database database.Config
}

func (c *Runs) DatabaseConfig() *database.Config {
	return &c.Database
}
