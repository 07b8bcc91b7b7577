package calerr

import (
	"errors"
	"testing"
)

func TestTaxonomy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{name: "empty_search_is_config", err: ErrEmptySearchSpace, target: ErrConfiguration, expected: true},
		{name: "configf_is_config", err: Configf("fraction %v", -1), target: ErrConfiguration, expected: true},
		{name: "window_is_not_config", err: ErrInvalidWindowConfiguration, target: ErrConfiguration, expected: false},
		{name: "shape_is_not_fit", err: ErrShapeMismatch, target: ErrModelFit, expected: false},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := errors.Is(test.err, test.target); got != test.expected {
				t.Errorf("errors.Is(%v, %v), got: %v, expected: %v", test.err, test.target, got, test.expected)
			}
		})
	}
}
