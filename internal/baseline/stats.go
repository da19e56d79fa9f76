package baseline

import "math"

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationStdDev returns the population standard deviation of values
// around mean (divides by n, not n-1).
func PopulationStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Stats summarizes a history snapshot.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes Stats over values.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	mean := Mean(values)
	st := Stats{
		Count:  len(values),
		Mean:   mean,
		StdDev: PopulationStdDev(values, mean),
		Min:    values[0],
		Max:    values[0],
	}
	for _, v := range values[1:] {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	return st
}
