// Package calerr holds the error taxonomy shared by both calibration
// pipelines. Every error is terminal for a batch run; callers match them with
// errors.Is.
package calerr

import "fmt"

var (
	// ErrConfiguration covers missing or empty inputs, invalid split fractions,
	// zero-scale feature columns and unknown option values.
	ErrConfiguration = fmt.Errorf("configuration error")

	// ErrEmptySearchSpace is a configuration error raised when a hyperparameter
	// candidate set is empty.
	ErrEmptySearchSpace = fmt.Errorf("%w: empty search space", ErrConfiguration)

	ErrInvalidWindowConfiguration = fmt.Errorf("invalid window configuration")

	// ErrShapeMismatch is returned by metric reductions over inputs of differing
	// or zero length.
	ErrShapeMismatch = fmt.Errorf("shape mismatch")

	ErrModelFit     = fmt.Errorf("model fit failed")
	ErrModelPredict = fmt.Errorf("model predict failed")
)

// Configf wraps ErrConfiguration with a formatted reason.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
