// Package rtt implements the exponentially weighted moving average used
// to smooth server round-trip time measurements.
package rtt

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWeight is the weight given to a new sample.
const DefaultWeight = 0.2

var (
	// ErrInvalidMeasurement matches errors returned for negative samples.
	ErrInvalidMeasurement = errors.New("invalid rtt measurement")

	// ErrInvalidWeight is returned for a weight outside (0,1].
	ErrInvalidWeight = errors.New("rtt weight must be in (0,1]")
)

// InvalidMeasurementError reports a negative elapsed time. It always
// indicates a clock or instrumentation bug.
type InvalidMeasurementError struct {
	Sample float64
}

func (e *InvalidMeasurementError) Error() string {
	return fmt.Sprintf("invalid rtt measurement: %gms is negative", e.Sample)
}

func (e *InvalidMeasurementError) Is(target error) bool {
	return target == ErrInvalidMeasurement
}

// Average returns the new smoothed average given the previous one (nil
// when nothing has been measured yet) and a new sample, in milliseconds.
//
// Without a previous average the sample is returned as is.
func Average(previous *float64, sample, weight float64) (float64, error) {
	if !ValidWeight(weight) {
		return 0, fmt.Errorf("%w: %g", ErrInvalidWeight, weight)
	}
	if sample < 0 {
		return 0, &InvalidMeasurementError{Sample: sample}
	}

	if previous == nil {
		return sample, nil
	}
	prev := *previous

	// The explicit conversions keep the compiler from fusing the
	// multiply-add, so results are identical on every platform.
	return float64(weight*sample) + float64((1-weight)*prev), nil
}

// ValidWeight reports if w can be used as a weight factor.
func ValidWeight(w float64) bool {
	return w > 0 && w <= 1
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Estimator carries a fixed weight so callers don't pass it around.
type Estimator struct {
	Weight float64
}

// Next is Average with the estimator's weight.
func (e Estimator) Next(previous *float64, sample float64) (float64, error) {
	return Average(previous, sample, e.Weight)
}
