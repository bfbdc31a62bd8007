package series

import (
	"errors"
	"fmt"
	"math"
)

// Observation bounds for an uploaded series.
const (
	MinObservations = 50
	MaxObservations = 5000
)

// ErrInvalidSeries is returned when series data fails validation.
var ErrInvalidSeries = errors.New("invalid time series")

// Validate checks that data is usable as a time series.
func Validate(data []float64) error {
	if len(data) < MinObservations {
		return fmt.Errorf("%w: must have at least %d observations, got %d", ErrInvalidSeries, MinObservations, len(data))
	}
	if len(data) > MaxObservations {
		return fmt.Errorf("%w: must have at most %d observations, got %d", ErrInvalidSeries, MaxObservations, len(data))
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: observation %d is not a finite number", ErrInvalidSeries, i)
		}
	}
	return nil
}
