// Package sarima fits seasonal ARIMA (p,d,q)x(P,D,Q)m models by conditional
// sum of squares and produces point forecasts with prediction intervals.
package sarima

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInsufficientData = errors.New("insufficient data points for model order")
	ErrNotFitted        = errors.New("model must be fitted before prediction")
)

// Order is the model specification (p,d,q)x(P,D,Q)m.
type Order struct {
	P  int
	D  int
	Q  int
	SP int
	SD int
	SQ int
	M  int
}

// DefaultOrder is (1,1,1)x(1,1,1)12, yearly seasonality on monthly data.
func DefaultOrder() Order {
	return Order{P: 1, D: 1, Q: 1, SP: 1, SD: 1, SQ: 1, M: 12}
}

func (o Order) String() string {
	return fmt.Sprintf("(%d,%d,%d)x(%d,%d,%d)%d", o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M)
}

// MinObservations is the shortest series Fit accepts for this order.
func (o Order) MinObservations() int {
	return o.P + o.Q + o.D + (o.SP+o.SD+o.SQ)*o.M + 20
}

func (o Order) params() int {
	return o.P + o.Q + o.SP + o.SQ + 1
}

type Model struct {
	Order     Order
	AR        []float64
	MA        []float64
	SAR       []float64
	SMA       []float64
	Intercept float64
	Variance  float64
	LogLik    float64
	AIC       float64
	BIC       float64

	fitted    bool
	data      []float64
	diffed    []float64
	residuals []float64
}

func New(o Order) *Model {
	return &Model{
		Order: o,
		AR:    make([]float64, o.P),
		MA:    make([]float64, o.Q),
		SAR:   make([]float64, o.SP),
		SMA:   make([]float64, o.SQ),
	}
}

// Fit estimates the coefficients from y. y is copied.
func (m *Model) Fit(y []float64) error {
	if len(y) < m.Order.MinObservations() {
		return fmt.Errorf("%w: have %d, need %d for %s", ErrInsufficientData, len(y), m.Order.MinObservations(), m.Order)
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}

	m.data = append([]float64(nil), y...)
	z := m.data
	for i := 0; i < m.Order.D; i++ {
		z = Diff(z)
	}
	for i := 0; i < m.Order.SD; i++ {
		z = SeasonalDiff(z, m.Order.M)
	}
	if len(z) == 0 {
		return fmt.Errorf("%w: differencing left no observations", ErrInsufficientData)
	}
	m.diffed = z

	m.initialise()
	m.optimise()
	m.informationCriteria()
	m.fitted = true
	return nil
}

func (m *Model) initialise() {
	z := m.diffed
	m.Intercept = mean(z)

	if m.Order.P > 0 {
		if acf := ACF(z, m.Order.P); acf != nil {
			for i := 0; i < m.Order.P && i+1 < len(acf); i++ {
				m.AR[i] = acf[i+1] * 0.5
			}
		}
	}
	if m.Order.SP > 0 {
		if acf := ACF(z, m.Order.SP*m.Order.M); acf != nil {
			for i := 0; i < m.Order.SP; i++ {
				if idx := (i + 1) * m.Order.M; idx < len(acf) {
					m.SAR[i] = acf[idx] * 0.5
				}
			}
		}
	}
	for i := range m.MA {
		m.MA[i] = 0.1
	}
	for i := range m.SMA {
		m.SMA[i] = 0.1
	}
}

// predictAt returns the one-step prediction for z[t] given the history
// z[:t] and residuals e[:t]. Residual lags at or beyond known are zero.
func (m *Model) predictAt(z, e []float64, t, known int) float64 {
	o := m.Order
	pred := m.Intercept
	for i := 0; i < o.P && t-i-1 >= 0; i++ {
		pred += m.AR[i] * (z[t-i-1] - m.Intercept)
	}
	for i := 0; i < o.SP; i++ {
		if lag := (i + 1) * o.M; t-lag >= 0 {
			pred += m.SAR[i] * (z[t-lag] - m.Intercept)
		}
	}
	for i := 0; i < o.Q && t-i-1 >= 0; i++ {
		if t-i-1 < known {
			pred += m.MA[i] * e[t-i-1]
		}
	}
	for i := 0; i < o.SQ; i++ {
		if lag := (i + 1) * o.M; t-lag >= 0 && t-lag < known {
			pred += m.SMA[i] * e[t-lag]
		}
	}
	return pred
}

func (m *Model) residualsFrom(start int) ([]float64, float64) {
	z := m.diffed
	e := make([]float64, len(z))
	var sse float64
	for t := start; t < len(z); t++ {
		e[t] = z[t] - m.predictAt(z, e, t, len(z))
		sse += e[t] * e[t]
	}
	return e, sse
}

// optimise runs momentum gradient descent on the conditional sum of
// squares, keeping the best coefficients seen.
func (m *Model) optimise() {
	const (
		maxIter   = 200
		tolerance = 1e-8
		momentum  = 0.9
		decay     = 0.99
		patience  = 20
		bound     = 0.99
	)
	o := m.Order
	z := m.diffed
	n := len(z)

	start := max(max(o.P, o.Q), max(o.SP*o.M, o.SQ*o.M))
	if start >= n-10 {
		start = 0
	}

	rate := 0.005
	vAR := make([]float64, o.P)
	vMA := make([]float64, o.Q)
	vSAR := make([]float64, o.SP)
	vSMA := make([]float64, o.SQ)

	best := math.Inf(1)
	bestAR := append([]float64(nil), m.AR...)
	bestMA := append([]float64(nil), m.MA...)
	bestSAR := append([]float64(nil), m.SAR...)
	bestSMA := append([]float64(nil), m.SMA...)
	stale := 0

	step := func(coef, vel, grad []float64) {
		for i := range coef {
			vel[i] = momentum*vel[i] + rate*grad[i]/float64(n)
			coef[i] = clamp(coef[i]-vel[i], -bound, bound)
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		e, sse := m.residualsFrom(start)

		if sse < best {
			best = sse
			copy(bestAR, m.AR)
			copy(bestMA, m.MA)
			copy(bestSAR, m.SAR)
			copy(bestSMA, m.SMA)
			stale = 0
		} else {
			stale++
		}
		if stale > patience {
			break
		}

		gAR := make([]float64, o.P)
		gMA := make([]float64, o.Q)
		gSAR := make([]float64, o.SP)
		gSMA := make([]float64, o.SQ)
		for t := start; t < n; t++ {
			for i := 0; i < o.P && t-i-1 >= 0; i++ {
				gAR[i] -= 2 * e[t] * (z[t-i-1] - m.Intercept)
			}
			for i := 0; i < o.SP; i++ {
				if lag := (i + 1) * o.M; t-lag >= 0 {
					gSAR[i] -= 2 * e[t] * (z[t-lag] - m.Intercept)
				}
			}
			for i := 0; i < o.Q && t-i-1 >= 0; i++ {
				gMA[i] -= 2 * e[t] * e[t-i-1]
			}
			for i := 0; i < o.SQ; i++ {
				if lag := (i + 1) * o.M; t-lag >= 0 {
					gSMA[i] -= 2 * e[t] * e[t-lag]
				}
			}
		}

		step(m.AR, vAR, gAR)
		step(m.SAR, vSAR, gSAR)
		step(m.MA, vMA, gMA)
		step(m.SMA, vSMA, gSMA)
		rate *= decay

		if iter > 0 && math.Abs(sse-best) < tolerance {
			break
		}
	}

	copy(m.AR, bestAR)
	copy(m.MA, bestMA)
	copy(m.SAR, bestSAR)
	copy(m.SMA, bestSMA)

	e, _ := m.residualsFrom(0)
	m.residuals = e

	var sse float64
	count := 0
	for t := start; t < n; t++ {
		sse += e[t] * e[t]
		count++
	}
	if k := o.params(); count > k {
		m.Variance = sse / float64(count-k)
	} else if count > 0 {
		m.Variance = sse / float64(count)
	}
}

func (m *Model) informationCriteria() {
	n := float64(len(m.residuals))
	k := float64(m.Order.params())

	var sse float64
	for _, r := range m.residuals {
		sse += r * r
	}
	if m.Variance > 0 {
		m.LogLik = -n/2*math.Log(2*math.Pi) - n/2*math.Log(m.Variance) - sse/(2*m.Variance)
	} else {
		m.LogLik = math.Inf(-1)
	}
	m.AIC = -2*m.LogLik + 2*k
	m.BIC = -2*m.LogLik + k*math.Log(n)
}

// Forecast returns point forecasts for the next steps observations.
func (m *Model) Forecast(steps int) ([]float64, error) {
	fc, _, _, err := m.ForecastInterval(steps, 0.95)
	return fc, err
}

// ForecastInterval returns point forecasts with lower and upper bounds at
// the given confidence level. Out-of-range confidence falls back to 0.95.
func (m *Model) ForecastInterval(steps int, confidence float64) (fc, lower, upper []float64, err error) {
	if !m.fitted {
		return nil, nil, nil, ErrNotFitted
	}
	if steps < 1 {
		return nil, nil, nil, errors.New("steps must be at least 1")
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}

	n := len(m.diffed)
	z := make([]float64, n+steps)
	copy(z, m.diffed)
	e := make([]float64, n+steps)
	copy(e, m.residuals)

	for t := n; t < n+steps; t++ {
		z[t] = m.predictAt(z, e, t, n)
	}

	fc = m.integrate(z[n:])

	zq := normalQuantile((1 + confidence) / 2)
	lower = make([]float64, steps)
	upper = make([]float64, steps)
	sd := math.Sqrt(m.Variance)
	for h := 0; h < steps; h++ {
		growth := 1.0
		if m.Order.D > 0 {
			growth *= math.Sqrt(float64(h + 1))
		}
		if m.Order.SD > 0 {
			growth *= math.Sqrt(float64(h/m.Order.M + 1))
		}
		lower[h] = fc[h] - zq*sd*growth
		upper[h] = fc[h] + zq*sd*growth
	}
	return fc, lower, upper, nil
}

// integrate undoes the seasonal then the non-seasonal differencing of fit.
func (m *Model) integrate(diffed []float64) []float64 {
	o := m.Order
	out := append([]float64(nil), diffed...)

	// levels[i] is the series after i non-seasonal differences.
	levels := make([][]float64, o.D+1)
	levels[0] = m.data
	for i := 1; i <= o.D; i++ {
		levels[i] = Diff(levels[i-1])
	}

	if o.SD > 0 {
		base := levels[o.D]
		for k := 0; k < o.SD; k++ {
			for j := range out {
				if j < o.M {
					if idx := len(base) - o.M + j; idx >= 0 {
						out[j] += base[idx]
					}
				} else {
					out[j] += out[j-o.M]
				}
			}
		}
	}

	for i := o.D; i > 0; i-- {
		prev := levels[i-1]
		last := prev[len(prev)-1]
		for j := range out {
			if j == 0 {
				out[j] += last
			} else {
				out[j] += out[j-1]
			}
		}
	}
	return out
}

// normalQuantile approximates the standard normal inverse CDF
// (Abramowitz and Stegun 26.2.23).
func normalQuantile(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	if p < 0.5 {
		return -normalQuantile(1 - p)
	}
	t := math.Sqrt(-2 * math.Log(1-p))
	c0, c1, c2 := 2.515517, 0.802853, 0.010328
	d1, d2, d3 := 1.432788, 0.189269, 0.001308
	return t - (c0+c1*t+c2*t*t)/(1+d1*t+d2*t*t+d3*t*t*t)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SeasonalNaive repeats the last full season of y for steps observations.
// It is the fallback for series too short to fit.
func SeasonalNaive(y []float64, period, steps int) []float64 {
	out := make([]float64, steps)
	if len(y) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	if period <= 0 || len(y) < period {
		last := y[len(y)-1]
		for i := range out {
			out[i] = last
		}
		return out
	}
	season := y[len(y)-period:]
	for h := range out {
		out[h] = season[h%period]
	}
	return out
}
