// Package sequence is the recurrent calibration pipeline. Vibration channels
// are cut into sliding windows and a stacked LSTM maps every window onto the
// reference channels at its last row.
package sequence

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/logging"
	"github.com/go-sod/calib/internal/metrics"
	"github.com/go-sod/calib/internal/model/lstm"
	"github.com/go-sod/calib/internal/partition"
	"github.com/go-sod/calib/internal/residual"
	runmodel "github.com/go-sod/calib/internal/run/model"
	"github.com/go-sod/calib/internal/scaler"
	"github.com/go-sod/calib/internal/table"
	"github.com/go-sod/calib/internal/window"
	"github.com/go-sod/calib/pkg/math/vector"
)

const (
	PartitionTrain      = "train"
	PartitionTest       = "test"
	PartitionValidation = "validation"
)

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
	if _, err := p.network(); err != nil {
		return nil, err
	}
	return p, nil
}

// Params are the recurrent model settings kept with a stored run.
type Params struct {
	Units        []int   `json:"units"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	WindowLength int     `json:"window"`
}

type Report struct {
	RunID        uuid.UUID                   `json:"run_id"`
	Channels     []string                    `json:"channels"`
	Partitions   map[string]int              `json:"partitions"`
	Windows      map[string]int              `json:"windows"`
	Metrics      map[string][]metrics.Bundle `json:"metrics"`
	LossCurve    []float64                   `json:"loss_curve"`
	InputScaler  *scaler.Scaler              `json:"input_scaler"`
	OutputScaler *scaler.Scaler              `json:"output_scaler"`
}

// windowed is one partition cut into windows. Rows holds the source row each
// window ends on; Truth holds the unscaled targets at those rows.
type windowed struct {
	name  string
	set   *window.Set
	rows  []int
	truth [][]float64
}

func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	logger := logging.FromContext(ctx).Named("sequence")
	logger.Infof("starting run: %v", &p.cfg)

	inputs, targets, err := p.load(logger)
	if err != nil {
		return nil, err
	}

	parts, err := partition.Split(len(inputs), p.cfg.Fractions(), p.cfg.Split, p.cfg.Seed)
	if err != nil {
		return nil, err
	}
	logger.Infof("partitions (%s): %v", p.cfg.Split, parts)

	inScaler, err := p.fitScaler(gather(inputs, parts.Train), p.cfg.Inputs)
	if err != nil {
		return nil, fmt.Errorf("input scaler: %w", err)
	}
	outScaler, err := p.fitScaler(gather(targets, parts.Train), p.cfg.Outputs)
	if err != nil {
		return nil, fmt.Errorf("output scaler: %w", err)
	}
	scaledIn, err := inScaler.Transform(inputs)
	if err != nil {
		return nil, err
	}
	scaledOut, err := outScaler.Transform(targets)
	if err != nil {
		return nil, err
	}

	sets := make([]*windowed, 0, 3)
	for _, part := range []struct {
		name string
		rows []int
	}{
		{PartitionTrain, parts.Train},
		{PartitionTest, parts.Test},
		{PartitionValidation, parts.Validation},
	} {
		w, err := p.windows(part.name, part.rows, scaledIn, scaledOut, targets)
		if err != nil {
			return nil, err
		}
		logger.Infof("%s: %d rows, %d windows of length %d", part.name, len(part.rows), w.set.Len(), p.cfg.WindowLength)
		sets = append(sets, w)
	}
	train := sets[0]
	if train.set.Len() == 0 {
		return nil, fmt.Errorf("no training window of length %d fits the training rows: %w",
			p.cfg.WindowLength, calerr.ErrInvalidWindowConfiguration)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	net, err := p.network()
	if err != nil {
		return nil, err
	}
	if err := net.Fit(train.set.X, train.set.Y); err != nil {
		return nil, err
	}
	curve := net.LossCurve()
	logger.Infof("fitted units %v for %d epochs, final loss %.6g", net.Units(), len(curve), curve[len(curve)-1])

	report := &Report{
		Channels:     append([]string(nil), p.cfg.Outputs...),
		Partitions:   map[string]int{PartitionTrain: len(parts.Train), PartitionTest: len(parts.Test), PartitionValidation: len(parts.Validation)},
		Windows:      make(map[string]int, len(sets)),
		Metrics:      make(map[string][]metrics.Bundle, len(sets)),
		LossCurve:    curve,
		InputScaler:  inScaler,
		OutputScaler: outScaler,
	}
	preds := make(map[string][][]float64, len(sets))
	for _, w := range sets {
		report.Windows[w.name] = w.set.Len()
		if w.set.Len() == 0 {
			logger.Warnf("%s has no complete window, skipping metrics", w.name)
			continue
		}
		scaled, err := net.Predict(w.set.X)
		if err != nil {
			return nil, err
		}
		pred, err := outScaler.Inverse(scaled)
		if err != nil {
			return nil, err
		}
		bs, err := metrics.ComputeColumns(pred, w.truth)
		if err != nil {
			return nil, fmt.Errorf("%s metrics: %w", w.name, err)
		}
		preds[w.name] = pred
		report.Metrics[w.name] = bs
		for j, b := range bs {
			logger.Infof("%s %s: %v", w.name, p.cfg.Outputs[j], b)
		}
	}

	if err := p.export(sets, preds); err != nil {
		return nil, err
	}
	if err := p.plot(sets, preds); err != nil {
		return nil, err
	}

	if p.store != nil {
		run, err := p.record(report, net)
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

func (p *Pipeline) load(logger *zap.SugaredLogger) (inputs, targets [][]float64, err error) {
	data := p.source
	if data == nil {
		if data, err = table.Read(p.cfg.InputPath, p.cfg.Sheet); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", p.cfg.InputPath, err)
		}
	}
	if len(p.cfg.Rename) > 0 {
		if data, err = data.Rename(p.cfg.Rename); err != nil {
			return nil, nil, err
		}
	}
	if data.Len() == 0 {
		return nil, nil, calerr.Configf("input table has no rows")
	}
	if cols := data.Unparsed(); len(cols) > 0 {
		logger.Warnf("ignoring non-numeric columns %v", cols)
	}
	if inputs, err = data.Rows(p.cfg.Inputs...); err != nil {
		return nil, nil, err
	}
	if targets, err = data.Rows(p.cfg.Outputs...); err != nil {
		return nil, nil, err
	}
	return inputs, targets, nil
}

func (p *Pipeline) fitScaler(rows [][]float64, columns []string) (*scaler.Scaler, error) {
	sc, err := scaler.New(p.cfg.Scaler)
	if err != nil {
		return nil, err
	}
	sc.Columns = columns
	if err := sc.Fit(rows); err != nil {
		return nil, err
	}
	return sc, nil
}

// windows cuts the partition rows into maximal runs of consecutive rows and
// windows each run separately. Runs shorter than the window are dropped.
func (p *Pipeline) windows(name string, rows []int, inputs, targets, truth [][]float64) (*windowed, error) {
	t := p.cfg.WindowLength
	w := &windowed{name: name, set: &window.Set{Length: t}}
	var sets []*window.Set
	for _, run := range partition.Runs(rows) {
		if window.Count(len(run), t) == 0 {
			continue
		}
		s, err := window.Make(gather(inputs, run), gather(targets, run), t)
		if err != nil {
			return nil, fmt.Errorf("%s windows: %w", name, err)
		}
		sets = append(sets, s)
		for _, end := range run[t-1:] {
			w.rows = append(w.rows, end)
			w.truth = append(w.truth, truth[end])
		}
	}
	if len(sets) > 0 {
		set, err := window.Concat(sets...)
		if err != nil {
			return nil, fmt.Errorf("%s windows: %w", name, err)
		}
		w.set = set
	}
	return w, nil
}

func (p *Pipeline) network() (*lstm.Network, error) {
	return lstm.New(
		lstm.WithUnits(p.cfg.Units...),
		lstm.WithLearningRate(p.cfg.LearningRate),
		lstm.WithEpochs(p.cfg.Epochs),
		lstm.WithBatchSize(p.cfg.BatchSize),
		lstm.WithClip(p.cfg.Clip),
		lstm.WithSeed(p.cfg.Seed),
		lstm.WithSolver(p.cfg.Solver),
	)
}

func gather(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = rows[i]
	}
	return out
}

// export writes one row per window, ordered by the row the window ends on,
// with truth and prediction side by side for every output channel.
func (p *Pipeline) export(sets []*windowed, preds map[string][][]float64) error {
	if p.cfg.PredictionsPath == "" {
		return nil
	}
	columns := []string{"row", "partition"}
	for _, c := range p.cfg.Outputs {
		columns = append(columns, c, c+"_predicted")
	}

	type line struct {
		row    int
		values []float64
	}
	var lines []line
	for _, w := range sets {
		pred := preds[w.name]
		for k, row := range w.rows {
			values := []float64{float64(row), partitionCodes[w.name]}
			for j := range p.cfg.Outputs {
				values = append(values, w.truth[k][j], pred[k][j])
			}
			lines = append(lines, line{row: row, values: values})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].row < lines[j].row })
	rows := make([][]float64, len(lines))
	for i, l := range lines {
		rows[i] = l.values
	}

	out, err := table.New(columns, rows)
	if err != nil {
		return err
	}
	if err := table.Write(p.cfg.PredictionsPath, out); err != nil {
		return fmt.Errorf("export predictions: %w", err)
	}
	return nil
}

// plot draws a truth/prediction overlay and a residual histogram per output
// channel for the last partition that produced windows.
func (p *Pipeline) plot(sets []*windowed, preds map[string][][]float64) error {
	if p.cfg.PlotDir == "" {
		return nil
	}
	var w *windowed
	for _, s := range sets {
		if s.set.Len() > 0 {
			w = s
		}
	}
	pred := preds[w.name]
	for j, channel := range p.cfg.Outputs {
		truthCol, predCol := vector.Column(w.truth, j), vector.Column(pred, j)
		title := fmt.Sprintf("%s (%s)", channel, w.name)
		if err := residual.SeriesPlot(filepath.Join(p.cfg.PlotDir, "series_"+channel+".png"), title, predCol, truthCol); err != nil {
			return err
		}
		res, err := residual.Residuals(predCol, truthCol)
		if err != nil {
			return err
		}
		if err := residual.HistogramPlot(filepath.Join(p.cfg.PlotDir, "residuals_"+channel+".png"), title, res, p.cfg.HistogramBins); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) record(report *Report, net *lstm.Network) (runmodel.Run, error) {
	params := Params{
		Units:        p.cfg.Units,
		LearningRate: p.cfg.LearningRate,
		Epochs:       p.cfg.Epochs,
		BatchSize:    p.cfg.BatchSize,
		WindowLength: p.cfg.WindowLength,
	}
	run := runmodel.NewRun(runmodel.KindSequence, p.cfg, params, p.now().UTC())
	for name, bs := range report.Metrics {
		run.Metrics[name] = runmodel.NewScores(bs...)
	}
	if p.cfg.StoreModel {
		blob, err := net.MarshalBinary()
		if err != nil {
			return runmodel.Run{}, err
		}
		run.Model = blob
	}
	return run, nil
}
