package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/go-sod/calib/internal/metrics"
)

type Kind string

const (
	KindTabular  Kind = "TABULAR"
	KindSequence Kind = "SEQUENCE"
)

// Float is a float64 that survives JSON when it is not finite. NaN and
// infinities are written as null and read back as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Score is the stored form of a metrics bundle.
type Score struct {
	N          int    `json:"n"`
	MSE        Float  `json:"mse"`
	RMSE       Float  `json:"rmse"`
	R2         Float  `json:"r2"`
	MAE        Float  `json:"mae"`
	Pearson    Float  `json:"pearson"`
	Degenerate bool   `json:"degenerate,omitempty"`
	Note       string `json:"note,omitempty"`
}

func NewScore(b metrics.Bundle) Score {
	return Score{
		N:          b.N,
		MSE:        Float(b.MSE),
		RMSE:       Float(b.RMSE),
		R2:         Float(b.R2),
		MAE:        Float(b.MAE),
		Pearson:    Float(b.Pearson),
		Degenerate: b.Degenerate,
		Note:       b.Note,
	}
}

func NewScores(bs ...metrics.Bundle) []Score {
	out := make([]Score, len(bs))
	for i, b := range bs {
		out[i] = NewScore(b)
	}
	return out
}

type Trial struct {
	Params interface{} `json:"params"`
	RMSE   Float       `json:"rmse"`
}

func NewRun(kind Kind, config, params interface{}, createdAt time.Time) Run {
	return Run{
		ID:        uuid.New(),
		Kind:      kind,
		Config:    config,
		Params:    params,
		Metrics:   make(map[string][]Score),
		CreatedAt: createdAt,
	}
}

// Run is one finished pipeline execution. Metrics are keyed by partition and
// hold one score per output channel.
type Run struct {
	ID        uuid.UUID          `json:"id"`
	Kind      Kind               `json:"kind"`
	Config    interface{}        `json:"config"`
	Params    interface{}        `json:"params"`
	Trials    []Trial            `json:"trials,omitempty"`
	Metrics   map[string][]Score `json:"metrics"`
	Model     []byte             `json:"model,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

func (r Run) Time() time.Time {
	return r.CreatedAt
}
