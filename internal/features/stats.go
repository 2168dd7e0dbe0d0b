package features

import (
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Epsilons of the divisions that may see a zero denominator.
const (
	shareEpsilon   = 1e-10
	weekdayEpsilon = 0.001
)

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// sampleStd is the n-1 standard deviation, undefined below two observations.
func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.StdDev(x, nil)
}

func maxOf(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return floats.Max(x)
}

// fill replaces undefined values with 0.
func fill(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// dayOfWeek numbers days from Monday=0 to Sunday=6.
func dayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func isWeekend(t time.Time) bool {
	return dayOfWeek(t) >= 5
}

// forEach runs fn for 0..n-1 on at most workers goroutines.
func forEach(n, workers int, fn func(i int)) {
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
