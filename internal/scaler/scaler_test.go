package scaler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/pkg/math/vector"
)

var train = [][]float64{
	{1, 10, -3},
	{2, 40, -1},
	{3, 20, 4},
	{4, 30, 8},
	{10, 90, 0},
}

func TestScaler_LocationIdempotence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		kind     Kind
		location func(vector.V) float64
	}{
		{name: "standard", kind: KindStandard, location: func(v vector.V) float64 { return stat.Mean(v, nil) }},
		{name: "robust", kind: KindRobust, location: func(v vector.V) float64 { return v.Median() }},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(test.kind)
			require.NoError(t, err)
			scaled, err := s.FitTransform(train)
			require.NoError(t, err)
			for j := range train[0] {
				assert.InDelta(t, 0, test.location(vector.Column(scaled, j)), 1e-9, "feature %d", j)
			}
		})
	}
}

func TestScaler_StandardUnitVariance(t *testing.T) {
	t.Parallel()
	s, _ := New(KindStandard)
	scaled, err := s.FitTransform(train)
	require.NoError(t, err)
	for j := range train[0] {
		_, std := stat.PopMeanStdDev(vector.Column(scaled, j), nil)
		assert.InDelta(t, 1, std, 1e-9)
	}
}

func TestScaler_FrozenAfterFit(t *testing.T) {
	t.Parallel()
	s, _ := New(KindRobust)
	require.NoError(t, s.Fit(train))
	loc := append([]float64(nil), s.Location...)

	other := [][]float64{{100, 100, 100}}
	out, err := s.Transform(other)
	require.NoError(t, err)
	assert.Equal(t, loc, s.Location)
	assert.InDelta(t, (100-loc[0])/s.Scale[0], out[0][0], 1e-12)
	assert.Error(t, s.Fit(other))
}

func TestScaler_Inverse(t *testing.T) {
	t.Parallel()
	s, _ := New(KindStandard)
	scaled, err := s.FitTransform(train)
	require.NoError(t, err)
	back, err := s.Inverse(scaled)
	require.NoError(t, err)
	for i := range train {
		assert.InDeltaSlice(t, train[i], back[i], 1e-9)
	}
}

func TestScaler_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind Kind
		rows [][]float64
		err  error
	}{
		{name: "empty", kind: KindStandard, rows: nil, err: calerr.ErrConfiguration},
		{name: "constant_column_standard", kind: KindStandard, rows: [][]float64{{1, 2}, {1, 3}}, err: calerr.ErrConfiguration},
		{name: "constant_column_robust", kind: KindRobust, rows: [][]float64{{5, 2}, {5, 3}, {5, 4}}, err: calerr.ErrConfiguration},
		{name: "ragged", kind: KindRobust, rows: [][]float64{{1, 2}, {1}}, err: calerr.ErrConfiguration},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			s, _ := New(test.kind)
			err := s.Fit(test.rows)
			assert.True(t, errors.Is(err, test.err), "got %v", err)
			assert.False(t, s.Fitted())
		})
	}
}

func TestScaler_TransformShape(t *testing.T) {
	t.Parallel()
	s, _ := New(KindStandard)
	_, err := s.Transform(train)
	assert.Error(t, err, "unfitted scaler must fail")

	require.NoError(t, s.Fit(train))
	_, err = s.Transform([][]float64{{1, 2}})
	assert.True(t, errors.Is(err, calerr.ErrShapeMismatch))
}

func TestKind(t *testing.T) {
	t.Parallel()
	_, err := New(Kind("MINMAX"))
	assert.True(t, errors.Is(err, calerr.ErrConfiguration))
	var k Kind
	require.NoError(t, k.Decode("ROBUST"))
	assert.Equal(t, KindRobust, k)
}
