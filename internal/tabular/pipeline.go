// Package tabular is the feed-forward calibration pipeline: it maps auxiliary
// sensor channels onto a reference reading, picks the network architecture by
// grid search and reports agreement per partition.
package tabular

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/logging"
	"github.com/go-sod/calib/internal/metrics"
	"github.com/go-sod/calib/internal/model/mlp"
	"github.com/go-sod/calib/internal/partition"
	"github.com/go-sod/calib/internal/residual"
	runmodel "github.com/go-sod/calib/internal/run/model"
	"github.com/go-sod/calib/internal/scaler"
	"github.com/go-sod/calib/internal/search"
	"github.com/go-sod/calib/internal/table"
	"github.com/go-sod/calib/pkg/math/vector"
)

const (
	PartitionTrain      = "train"
	PartitionTest       = "test"
	PartitionValidation = "validation"
)

// partitionCodes tag exported rows with the partition they belong to.
var partitionCodes = map[string]float64{
	PartitionTrain:      0,
	PartitionTest:       1,
	PartitionValidation: 2,
}

type RunStore interface {
	Store(ctx context.Context, run runmodel.Run) error
}

type ProvideFn func() (*Pipeline, error)

type Option func(*Pipeline)

// WithRunStore persists every finished run.
func WithRunStore(store RunStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithTable uses t instead of reading the configured input file.
func WithTable(t *table.Table) Option {
	return func(p *Pipeline) {
		p.source = t
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

type Pipeline struct {
	cfg    Config
	store  RunStore
	source *table.Table
	now    func() time.Time
}

func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, now: time.Now}
	for _, f := range opts {
		f(p)
	}
	if p.source == nil && cfg.InputPath == "" {
		return nil, calerr.Configf("input path is required")
	}
	return p, nil
}

type Report struct {
	RunID      uuid.UUID                 `json:"run_id"`
	Partitions map[string]int            `json:"partitions"`
	Search     search.Result             `json:"search"`
	Metrics    map[string]metrics.Bundle `json:"metrics"`
	Residuals  residual.Summary          `json:"residuals"`
	Histogram  []residual.Bin            `json:"histogram"`
	Scaler     *scaler.Scaler            `json:"scaler"`
}

// dataset is one partition: row indices into the source table, scaled
// features and the raw target.
type dataset struct {
	name string
	rows []int
	X    [][]float64
	y    vector.V
}

func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	logger := logging.FromContext(ctx).Named("tabular")
	logger.Infof("starting run: %v", &p.cfg)

	data, err := p.load(logger)
	if err != nil {
		return nil, err
	}

	parts, err := partition.Split(data.Len(), p.cfg.Fractions(), p.cfg.Split, p.cfg.Seed)
	if err != nil {
		return nil, err
	}
	if len(parts.Test) == 0 {
		return nil, calerr.Configf("test partition is empty for %d rows", data.Len())
	}
	logger.Infof("partitions (%s): %v", p.cfg.Split, parts)

	sets, sc, err := p.prepare(data, parts)
	if err != nil {
		return nil, err
	}
	train, test, validation := sets[0], sets[1], sets[2]

	res, err := search.Run(ctx, p.cfg.Grid(), func(ctx context.Context, c search.Candidate) (float64, error) {
		net, err := p.fit(c, train)
		if err != nil {
			return 0, err
		}
		pred, err := net.Predict(test.X)
		if err != nil {
			return 0, err
		}
		b, err := metrics.Compute(pred, test.y)
		if err != nil {
			return 0, err
		}
		return b.RMSE, nil
	})
	if err != nil {
		return nil, fmt.Errorf("architecture search: %w", err)
	}

	best, err := p.fit(res.Best, train)
	if err != nil {
		return nil, fmt.Errorf("refit %v: %w", res.Best, err)
	}
	logger.Infof("refitted hidden layers %v on %d training rows", best.Hidden(), len(train.rows))

	report := &Report{
		Partitions: make(map[string]int, len(sets)),
		Search:     res,
		Metrics:    make(map[string]metrics.Bundle, len(sets)),
		Scaler:     sc,
	}
	preds := make(map[string][]float64, len(sets))
	for _, ds := range sets {
		report.Partitions[ds.name] = len(ds.rows)
		if len(ds.rows) == 0 {
			continue
		}
		pred, err := best.Predict(ds.X)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", ds.name, err)
		}
		b, err := metrics.Compute(pred, ds.y)
		if err != nil {
			return nil, fmt.Errorf("%s metrics: %w", ds.name, err)
		}
		preds[ds.name] = pred
		report.Metrics[ds.name] = b
		logger.Infof("%s: %v", ds.name, b)
	}

	analysed := validation
	if len(validation.rows) == 0 {
		logger.Warnf("validation partition is empty, analysing test residuals")
		analysed = test
	}
	resid, err := residual.Residuals(preds[analysed.name], analysed.y)
	if err != nil {
		return nil, fmt.Errorf("%s residuals: %w", analysed.name, err)
	}
	report.Residuals = residual.Summarize(resid)
	if report.Histogram, err = residual.Histogram(resid, p.cfg.HistogramBins); err != nil {
		return nil, err
	}
	logger.Infof("%s residuals: %v", analysed.name, report.Residuals)

	if err := p.export(sets, preds); err != nil {
		return nil, err
	}
	if err := p.plot(analysed, preds[analysed.name], resid); err != nil {
		return nil, err
	}

	if p.store != nil {
		run, err := p.record(res, report, best)
		if err != nil {
			return nil, err
		}
		if err := p.store.Store(ctx, run); err != nil {
			return nil, fmt.Errorf("store run: %w", err)
		}
		report.RunID = run.ID
		logger.Infof("stored run %s", run.ID)
	}
	return report, nil
}

// load reads the input and narrows it to the feature and target channels.
func (p *Pipeline) load(logger *zap.SugaredLogger) (*table.Table, error) {
	data := p.source
	if data == nil {
		var err error
		if data, err = table.Read(p.cfg.InputPath, p.cfg.Sheet); err != nil {
			return nil, fmt.Errorf("load %s: %w", p.cfg.InputPath, err)
		}
	}
	if len(p.cfg.Rename) > 0 {
		renamed, err := data.Rename(p.cfg.Rename)
		if err != nil {
			return nil, err
		}
		data = renamed
	}
	if data.Len() == 0 {
		return nil, calerr.Configf("input table has no rows")
	}
	if cols := data.Unparsed(); len(cols) > 0 {
		logger.Warnf("ignoring non-numeric columns %v", cols)
	}
	return data.Select(append(append([]string(nil), p.cfg.Features...), p.cfg.Target)...)
}

// prepare gathers the partitions and scales their features with statistics
// fitted on the training rows only.
func (p *Pipeline) prepare(data *table.Table, parts *partition.Partitions) ([]*dataset, *scaler.Scaler, error) {
	sets := []*dataset{
		{name: PartitionTrain, rows: parts.Train},
		{name: PartitionTest, rows: parts.Test},
		{name: PartitionValidation, rows: parts.Validation},
	}
	raw := make([][][]float64, len(sets))
	for i, ds := range sets {
		sub, err := data.Take(ds.rows)
		if err != nil {
			return nil, nil, err
		}
		if raw[i], err = sub.Rows(p.cfg.Features...); err != nil {
			return nil, nil, err
		}
		if ds.y, err = sub.Column(p.cfg.Target); err != nil {
			return nil, nil, err
		}
	}

	sc, err := scaler.New(p.cfg.Scaler)
	if err != nil {
		return nil, nil, err
	}
	sc.Columns = p.cfg.Features
	if err := sc.Fit(raw[0]); err != nil {
		return nil, nil, err
	}
	for i, ds := range sets {
		if ds.X, err = sc.Transform(raw[i]); err != nil {
			return nil, nil, fmt.Errorf("scale %s: %w", ds.name, err)
		}
	}
	return sets, sc, nil
}

func (p *Pipeline) fit(c search.Candidate, train *dataset) (*mlp.Network, error) {
	net, err := mlp.New(
		mlp.WithHidden(c.Hidden...),
		mlp.WithLearningRate(c.LearningRate),
		mlp.WithMaxEpochs(c.Epochs),
		mlp.WithBatchSize(p.cfg.BatchSize),
		mlp.WithSeed(p.cfg.Seed),
		mlp.WithSolver(p.cfg.Solver),
	)
	if err != nil {
		return nil, err
	}
	if err := net.Fit(train.X, train.y); err != nil {
		return nil, err
	}
	return net, nil
}

// export writes every row in source order with its partition code, truth,
// prediction and residual.
func (p *Pipeline) export(sets []*dataset, preds map[string][]float64) error {
	if p.cfg.PredictionsPath == "" {
		return nil
	}
	total := 0
	for _, ds := range sets {
		total += len(ds.rows)
	}
	index, codes := make(vector.V, total), make(vector.V, total)
	truth, predicted, res := make(vector.V, total), make(vector.V, total), make(vector.V, total)
	for _, ds := range sets {
		pred := preds[ds.name]
		for k, i := range ds.rows {
			index[i], codes[i] = float64(i), partitionCodes[ds.name]
			truth[i], predicted[i], res[i] = ds.y[k], pred[k], ds.y[k]-pred[k]
		}
	}
	out, err := table.FromColumns(
		[]string{"row", "partition", p.cfg.Target, p.cfg.Target + "_predicted", "residual"},
		index, codes, truth, predicted, res,
	)
	if err != nil {
		return err
	}
	if err := table.Write(p.cfg.PredictionsPath, out); err != nil {
		return fmt.Errorf("export predictions: %w", err)
	}
	return nil
}

func (p *Pipeline) plot(ds *dataset, pred, res []float64) error {
	if p.cfg.PlotDir == "" {
		return nil
	}
	title := fmt.Sprintf("%s (%s)", p.cfg.Target, ds.name)
	if err := residual.ScatterPlot(filepath.Join(p.cfg.PlotDir, "scatter.png"), title, pred, ds.y); err != nil {
		return err
	}
	return residual.HistogramPlot(filepath.Join(p.cfg.PlotDir, "residuals.png"), title, res, p.cfg.HistogramBins)
}

func (p *Pipeline) record(res search.Result, report *Report, best *mlp.Network) (runmodel.Run, error) {
	run := runmodel.NewRun(runmodel.KindTabular, p.cfg, res.Best, p.now().UTC())
	for _, t := range res.Trials {
		run.Trials = append(run.Trials, runmodel.Trial{Params: t.Candidate, RMSE: runmodel.Float(t.RMSE)})
	}
	for name, b := range report.Metrics {
		run.Metrics[name] = runmodel.NewScores(b)
	}
	if p.cfg.StoreModel {
		blob, err := best.MarshalBinary()
		if err != nil {
			return runmodel.Run{}, err
		}
		run.Model = blob
	}
	return run, nil
}
