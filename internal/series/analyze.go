package series

import (
	"errors"
	"math"
	"slices"
)

// Analysis is the result of analyzing a series.
type Analysis struct {
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	Median    float64 `json:"median"`
	Std       float64 `json:"std"`
	Q25       float64 `json:"q25"`
	Q75       float64 `json:"q75"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Slope     float64 `json:"trend_slope"`
	Intercept float64 `json:"trend_intercept"`
}

// Analyze computes descriptive statistics and a least-squares linear trend.
func Analyze(data []float64) (Analysis, error) {
	if len(data) == 0 {
		return Analysis{}, errors.New("empty series")
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	a := Analysis{
		Count:  len(data),
		Mean:   mean(data),
		Median: quantile(sorted, 0.5),
		Q25:    quantile(sorted, 0.25),
		Q75:    quantile(sorted, 0.75),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}

	// Sample standard deviation.
	if len(data) > 1 {
		var ss float64
		for _, v := range data {
			d := v - a.Mean
			ss += d * d
		}
		a.Std = math.Sqrt(ss / float64(len(data)-1))
	}

	a.Slope, a.Intercept = linearFit(data)
	return a, nil
}

func mean(data []float64) float64 {
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// quantile interpolates linearly between closest ranks of sorted data.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// linearFit returns the least-squares slope and intercept of data against its index.
func linearFit(data []float64) (slope, intercept float64) {
	n := float64(len(data))
	if len(data) < 2 {
		return 0, data[0]
	}
	var sx, sy, sxx, sxy float64
	for i, y := range data {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	slope = (n*sxy - sx*sy) / (n*sxx - sx*sx)
	intercept = (sy - slope*sx) / n
	return slope, intercept
}
