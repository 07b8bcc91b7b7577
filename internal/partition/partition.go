// Package partition splits an observation table into disjoint training,
// testing and validation row sets.
package partition

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/go-sod/calib/internal/calerr"
)

type Policy string

const (
	// PolicyRandom samples rows without replacement. Temporally autocorrelated
	// sensor data leaks between partitions under this policy.
	PolicyRandom Policy = "RANDOM"
	// PolicyContiguous assigns the first block of rows to training, the next to
	// testing and the last to validation.
	PolicyContiguous Policy = "CONTIGUOUS"
)

const fractionTolerance = 1e-9

// Decode implements envconfig.Decoder.
func (p *Policy) Decode(value string) error {
	switch Policy(value) {
	case PolicyRandom, PolicyContiguous:
		*p = Policy(value)
		return nil
	default:
		return calerr.Configf("unknown split policy %q", value)
	}
}

type Fractions struct {
	Train      float64
	Test       float64
	Validation float64
}

func (f Fractions) Validate() error {
	for _, v := range []float64{f.Train, f.Test, f.Validation} {
		if v < 0 || math.IsNaN(v) {
			return calerr.Configf("split fractions must be non-negative, got %+v", f)
		}
	}
	if sum := f.Train + f.Test + f.Validation; math.Abs(sum-1) > fractionTolerance {
		return calerr.Configf("split fractions must sum to 1, got %v", sum)
	}
	if f.Train == 0 {
		return calerr.Configf("training fraction must be positive")
	}
	return nil
}

// Sizes returns the partition sizes for n rows. The training size is rounded
// first and the remainder is shared between test and validation in proportion
// to their fractions.
func (f Fractions) Sizes(n int) (train, test, validation int) {
	train = int(math.Round(float64(n) * f.Train))
	if train > n {
		train = n
	}
	rest := n - train
	if denom := f.Test + f.Validation; denom > 0 {
		test = int(math.Round(float64(rest) * f.Test / denom))
	}
	validation = rest - test
	return train, test, validation
}

// Partitions holds row indices. Each slice is sorted ascending so temporal
// order is preserved inside a partition.
type Partitions struct {
	Train      []int
	Test       []int
	Validation []int
}

// Split partitions row indices 0..n-1 under the given policy. The seed is only
// used by PolicyRandom.
func Split(n int, f Fractions, policy Policy, seed int64) (*Partitions, error) {
	if n <= 0 {
		return nil, calerr.Configf("cannot split an empty table")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	nTrain, nTest, _ := f.Sizes(n)
	if nTrain == 0 {
		return nil, calerr.Configf("training partition is empty for %d rows", n)
	}

	var order []int
	switch policy {
	case PolicyRandom:
		order = rand.New(rand.NewSource(seed)).Perm(n)
	case PolicyContiguous:
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	default:
		return nil, calerr.Configf("unknown split policy %q", policy)
	}

	p := &Partitions{
		Train:      sorted(order[:nTrain]),
		Test:       sorted(order[nTrain : nTrain+nTest]),
		Validation: sorted(order[nTrain+nTest:]),
	}
	return p, nil
}

func sorted(idx []int) []int {
	out := append([]int(nil), idx...)
	sort.Ints(out)
	return out
}

// Runs groups ascending indices into maximal runs of consecutive rows.
// Sliding windows are built per run so no window spans a partition gap.
func Runs(indices []int) [][]int {
	var (
		runs [][]int
		cur  []int
	)
	for k, i := range indices {
		if k > 0 && i != indices[k-1]+1 {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, i)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func (p *Partitions) String() string {
	return fmt.Sprintf("train=%d test=%d validation=%d", len(p.Train), len(p.Test), len(p.Validation))
}
