package window

import (
	"math"
	"time"
)

// Sample is one observation of a metric at a point in time.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Stats holds trailing-window baseline statistics.
type Stats struct {
	Mean float64
	Std  float64
	N    int
}

// ZScore returns the z-score of v against the baseline. A degenerate
// baseline (no spread or no samples) yields 0 rather than an infinity so
// downstream threshold predicates simply fail to fire.
func (s Stats) ZScore(v float64) float64 {
	if s.N == 0 || s.Std == 0 {
		return 0
	}
	return (v - s.Mean) / s.Std
}

// BaselineStats computes the mean and population standard deviation of the
// samples falling in [asOf-lookback, asOf), skipping samples inside any of
// the exclusion intervals. Rules that compare behavior against a period
// known to be free of the event under test pass the event windows as
// exclusions to keep the baseline clean.
func BaselineStats(samples []Sample, asOf time.Time, lookback time.Duration, exclude []Interval) Stats {
	start := asOf.Add(-lookback)
	var sum, sumSq float64
	var n int
	for _, s := range samples {
		if s.Timestamp.Before(start) || !s.Timestamp.Before(asOf) {
			continue
		}
		if InAnyInterval(s.Timestamp, exclude) {
			continue
		}
		sum += s.Value
		sumSq += s.Value * s.Value
		n++
	}
	if n == 0 {
		return Stats{}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{Mean: mean, Std: math.Sqrt(variance), N: n}
}

// MeanStd computes mean and population standard deviation over a plain
// value slice.
func MeanStd(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return Stats{Mean: mean, Std: math.Sqrt(variance), N: len(values)}
}
