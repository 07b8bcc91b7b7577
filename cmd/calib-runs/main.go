package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/go-sod/calib/internal/buildinfo"
	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/config"
	"github.com/go-sod/calib/internal/logging"
	rundb "github.com/go-sod/calib/internal/run/database"
	runmodel "github.com/go-sod/calib/internal/run/model"
	"github.com/go-sod/calib/internal/setup"
	"github.com/go-sod/calib/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprint(os.Stderr, buildinfo.Info.Banner("runs"))

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

	cfg := config.Runs{}
	env, err := setup.Setup(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer func() {
		if err := env.Close(ctx); err != nil {
			logger.Errorf("env.Close: %v", err)
		}
	}()

	if env.Runs() == nil {
		return fmt.Errorf("run database is disabled, set CALIB_DB_FILE")
	}
	if cfg.Delete != "" {
		if err := remove(ctx, env.Runs(), cfg.Delete); err != nil {
			return err
		}
		logger.Infof("deleted run %s", cfg.Delete)
	}
	return list(ctx, os.Stdout, env.Runs(), cfg.Kind)
}

func remove(ctx context.Context, db *rundb.DB, raw string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return calerr.Configf("run id %q: %v", raw, err)
	}
	r, ok, err := db.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get run %s: %w", id, err)
	}
	if !ok {
		return calerr.Configf("run %s not found", id)
	}
	if err := db.Delete(ctx, r); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

// list prints one line per stored metric bundle followed by the number of
// runs per kind.
func list(ctx context.Context, out io.Writer, db *rundb.DB, kind string) error {
	var filter rundb.FilterFn
	if kind != "" {
		k := runmodel.Kind(kind)
		filter = func(r runmodel.Run) bool { return r.Kind == k }
	}
	runs, err := db.FindAll(ctx, filter)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tCREATED\tPARTITION\tCHANNEL\tRMSE\tR2\tPEARSON")
	for _, r := range runs {
		for _, part := range []string{"train", "test", "validation"} {
			for j, s := range r.Metrics[part] {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4g\t%.4g\t%.4g\n",
					r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05"), part, j,
					float64(s.RMSE), float64(s.R2), float64(s.Pearson))
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	kinds, err := db.Kinds()
	if err != nil {
		return fmt.Errorf("list kinds: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "KIND\tRUNS")
	for _, k := range kinds {
		if kind != "" && string(k) != kind {
			continue
		}
		n, err := db.CountByKind(k)
		if err != nil {
			return fmt.Errorf("count %s runs: %w", k, err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", k, n)
	}
	return w.Flush()
}
