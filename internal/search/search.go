// Package search runs an exhaustive grid search over MLP architectures.
package search

import (
	"context"
	"fmt"
	"math"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/logging"
)

// Grid holds the candidate values for every searched hyperparameter.
type Grid struct {
	Hidden        [][]int   `toml:"hidden"`
	LearningRates []float64 `toml:"learning_rates"`
	Epochs        []int     `toml:"epochs"`
}

// Candidate is one point of the grid.
type Candidate struct {
	Hidden       []int   `json:"hidden"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("hidden=%v lr=%g epochs=%d", c.Hidden, c.LearningRate, c.Epochs)
}

// Trial is a scored candidate.
type Trial struct {
	Candidate Candidate `json:"candidate"`
	RMSE      float64   `json:"rmse"`
}

type Result struct {
	Best   Candidate `json:"best"`
	RMSE   float64   `json:"rmse"`
	Trials []Trial   `json:"trials"`
}

// EvalFunc trains a model for c and returns its RMSE on held-out data.
type EvalFunc func(ctx context.Context, c Candidate) (float64, error)

func (g Grid) Validate() error {
	switch {
	case len(g.Hidden) == 0:
		return fmt.Errorf("%w: no hidden layer candidates", calerr.ErrEmptySearchSpace)
	case len(g.LearningRates) == 0:
		return fmt.Errorf("%w: no learning rate candidates", calerr.ErrEmptySearchSpace)
	case len(g.Epochs) == 0:
		return fmt.Errorf("%w: no epoch candidates", calerr.ErrEmptySearchSpace)
	}
	return nil
}

// Candidates enumerates the grid with hidden layers outermost and epochs
// innermost.
func (g Grid) Candidates() []Candidate {
	out := make([]Candidate, 0, len(g.Hidden)*len(g.LearningRates)*len(g.Epochs))
	for _, h := range g.Hidden {
		for _, lr := range g.LearningRates {
			for _, ep := range g.Epochs {
				out = append(out, Candidate{
					Hidden:       append([]int(nil), h...),
					LearningRate: lr,
					Epochs:       ep,
				})
			}
		}
	}
	return out
}

// Run evaluates every candidate and keeps the one with the lowest RMSE. A
// later candidate replaces the best only when strictly better, so ties keep
// the earliest one. Scores that are not numbers never win unless nothing
// else was scored.
func Run(ctx context.Context, grid Grid, eval EvalFunc) (Result, error) {
	logger := logging.FromContext(ctx).Named("search")
	if err := grid.Validate(); err != nil {
		return Result{}, err
	}

	candidates := grid.Candidates()
	res := Result{RMSE: math.NaN(), Trials: make([]Trial, 0, len(candidates))}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("search aborted after %d of %d candidates: %w", i, len(candidates), err)
		}
		rmse, err := eval(ctx, c)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate %v: %w", c, err)
		}
		logger.Infof("candidate %d/%d %v rmse=%.6g", i+1, len(candidates), c, rmse)
		res.Trials = append(res.Trials, Trial{Candidate: c, RMSE: rmse})
		if i == 0 || better(rmse, res.RMSE) {
			res.Best, res.RMSE = c, rmse
		}
	}
	logger.Infof("best %v rmse=%.6g", res.Best, res.RMSE)
	return res, nil
}

func better(score, best float64) bool {
	if math.IsNaN(score) {
		return false
	}
	return math.IsNaN(best) || score < best
}
