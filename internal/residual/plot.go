package residual

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	truthColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	predColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// ScatterPlot draws predictions against truth with the identity line.
func ScatterPlot(path, title string, pred, truth []float64) error {
	if len(pred) != len(truth) || len(pred) == 0 {
		return fmt.Errorf("scatter plot: %d predictions for %d truth values", len(pred), len(truth))
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "truth"
	p.Y.Label.Text = "predicted"

	pts := make(plotter.XYs, len(pred))
	lo, hi := truth[0], truth[0]
	for i := range pred {
		pts[i] = plotter.XY{X: truth[i], Y: pred[i]}
		lo, hi = min(lo, truth[i], pred[i]), max(hi, truth[i], pred[i])
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("scatter plot: %w", err)
	}
	s.GlyphStyle.Color = predColor
	s.GlyphStyle.Radius = vg.Points(1.5)

	ident, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return fmt.Errorf("scatter plot: %w", err)
	}
	ident.LineStyle.Color = truthColor
	ident.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(s, ident, plotter.NewGrid())
	return save(p, path)
}

// HistogramPlot draws the residual distribution.
func HistogramPlot(path, title string, res []float64, bins int) error {
	if len(res) == 0 {
		return fmt.Errorf("histogram plot: no residuals")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "residual (truth - predicted)"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(plotter.Values(res), bins)
	if err != nil {
		return fmt.Errorf("histogram plot: %w", err)
	}
	h.FillColor = truthColor
	p.Add(h)
	return save(p, path)
}

// SeriesPlot overlays truth and predictions along the sample index.
func SeriesPlot(path, title string, pred, truth []float64) error {
	if len(pred) != len(truth) || len(pred) == 0 {
		return fmt.Errorf("series plot: %d predictions for %d truth values", len(pred), len(truth))
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "sample"
	p.Legend.Top = true

	for _, s := range []struct {
		name string
		ys   []float64
		c    color.Color
	}{
		{name: "truth", ys: truth, c: truthColor},
		{name: "predicted", ys: pred, c: predColor},
	} {
		pts := make(plotter.XYs, len(s.ys))
		for i, y := range s.ys {
			pts[i] = plotter.XY{X: float64(i), Y: y}
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("series plot: %w", err)
		}
		l.LineStyle.Color = s.c
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
