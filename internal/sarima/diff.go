package sarima

// Diff returns the lag-1 differences of y.
func Diff(y []float64) []float64 {
	return SeasonalDiff(y, 1)
}

// SeasonalDiff returns y[t] - y[t-lag]. The result is lag elements shorter
// than y, or empty when y is too short.
func SeasonalDiff(y []float64, lag int) []float64 {
	if lag <= 0 || len(y) <= lag {
		return nil
	}
	out := make([]float64, len(y)-lag)
	for t := lag; t < len(y); t++ {
		out[t-lag] = y[t] - y[t-lag]
	}
	return out
}

func mean(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y))
}

// ACF returns the sample autocorrelation of y for lags 0..maxLag. It is nil
// for a constant series.
func ACF(y []float64, maxLag int) []float64 {
	n := len(y)
	if maxLag >= n {
		maxLag = n - 1
	}
	if maxLag < 0 {
		return nil
	}

	mu := mean(y)
	var variance float64
	for _, v := range y {
		variance += (v - mu) * (v - mu)
	}
	if variance == 0 {
		return nil
	}

	acf := make([]float64, maxLag+1)
	for k := 0; k <= maxLag; k++ {
		var sum float64
		for i := k; i < n; i++ {
			sum += (y[i] - mu) * (y[i-k] - mu)
		}
		acf[k] = sum / variance
	}
	return acf
}
