package errors

import (
	"fmt"
	"math"
)

// CheckFinite returns a ValidationError naming param when values contain NaN or Inf.
// Only the first offending index is reported.
func CheckFinite(param string, values []float32) error {
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NewValidationError(param, "values must be finite", map[string]interface{}{"index": i, "value": f})
		}
	}
	return nil
}

// CheckLength returns a ValidationError when got differs from want.
func CheckLength(param string, want, got int) error {
	if want != got {
		return NewValidationError(param, fmt.Sprintf("length must be %d", want), got)
	}
	return nil
}
