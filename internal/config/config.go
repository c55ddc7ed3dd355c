// Package config loads reference thresholds and forecast settings from a
// YAML file and resolves them into the types the WQI and forecast packages
// consume.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lox/wqiforecast/internal/sarima"
	"github.com/lox/wqiforecast/internal/wqi"
)

var validate = validator.New()

// Config is the top-level file layout.
type Config struct {
	// Thresholds lists the reference bounds in scoring order.
	Thresholds []ThresholdConfig `yaml:"thresholds" validate:"required,min=1,dive"`
	// LowerBoundFeatures marks single-valued `bound` entries as lower
	// bounds. Entries that set lower/upper explicitly ignore it.
	LowerBoundFeatures []string       `yaml:"lower_bound_features" validate:"dive,required"`
	Forecast           ForecastConfig `yaml:"forecast"`
	WQI                WQIConfig      `yaml:"wqi"`
	// Schedule is the cron spec used by `serve` to refresh remote sites.
	Schedule string `yaml:"schedule"`
}

// ThresholdConfig describes one parameter. Set lower and/or upper, or the
// legacy single `bound`.
type ThresholdConfig struct {
	Name  string   `yaml:"name" validate:"required"`
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
	Bound *float64 `yaml:"bound"`
}

type ForecastConfig struct {
	Order       OrderConfig `yaml:"order"`
	Steps       int         `yaml:"steps" validate:"min=1,max=240"`
	ImputeMean  bool        `yaml:"impute_mean"`
	Confidence  float64     `yaml:"confidence" validate:"gt=0,lt=1"`
	Concurrency int         `yaml:"concurrency" validate:"min=0,max=64"`
}

type OrderConfig struct {
	P         int `yaml:"p" validate:"min=0,max=5"`
	D         int `yaml:"d" validate:"min=0,max=2"`
	Q         int `yaml:"q" validate:"min=0,max=5"`
	SeasonalP int `yaml:"seasonal_p" validate:"min=0,max=3"`
	SeasonalD int `yaml:"seasonal_d" validate:"min=0,max=1"`
	SeasonalQ int `yaml:"seasonal_q" validate:"min=0,max=3"`
	Period    int `yaml:"period" validate:"min=1,max=52"`
}

type WQIConfig struct {
	// SkipInvalid drops seasons with no usable measurements instead of
	// failing the run.
	SkipInvalid bool `yaml:"skip_invalid"`
	Concurrency int  `yaml:"concurrency" validate:"min=0,max=64"`
}

// Default mirrors wqi.DefaultReference with the standard seasonal model.
func Default() *Config {
	ref := wqi.DefaultReference()
	c := &Config{
		Forecast: ForecastConfig{
			Order:      orderConfig(sarima.DefaultOrder()),
			Steps:      24,
			ImputeMean: true,
			Confidence: 0.95,
		},
		WQI:      WQIConfig{SkipInvalid: true},
		Schedule: "@daily",
	}
	for _, t := range ref {
		c.Thresholds = append(c.Thresholds, thresholdConfig(t))
	}
	return c
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := c.Reference(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reference resolves the thresholds into tagged bounds.
func (c *Config) Reference() (wqi.Reference, error) {
	lower := make(map[string]bool, len(c.LowerBoundFeatures))
	for _, f := range c.LowerBoundFeatures {
		lower[f] = true
	}

	ref := make(wqi.Reference, 0, len(c.Thresholds))
	seen := make(map[string]bool, len(c.Thresholds))
	for _, t := range c.Thresholds {
		if seen[t.Name] {
			return nil, fmt.Errorf("threshold %q: duplicate parameter", t.Name)
		}
		seen[t.Name] = true

		b, err := t.resolve(lower[t.Name])
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", t.Name, err)
		}
		ref = append(ref, wqi.Threshold{Parameter: t.Name, Bound: b})
	}

	for f := range lower {
		if !seen[f] {
			return nil, fmt.Errorf("lower_bound_features: unknown parameter %q", f)
		}
	}
	return ref, nil
}

func (t ThresholdConfig) resolve(lowerFeature bool) (wqi.Bound, error) {
	if t.Bound != nil {
		if t.Lower != nil || t.Upper != nil {
			return wqi.Bound{}, errors.New("bound cannot be combined with lower or upper")
		}
		if lowerFeature {
			return wqi.LowerOnly(*t.Bound), nil
		}
		return wqi.UpperOnly(*t.Bound), nil
	}
	switch {
	case t.Lower != nil && t.Upper != nil:
		if *t.Lower > *t.Upper {
			return wqi.Bound{}, fmt.Errorf("lower %g exceeds upper %g", *t.Lower, *t.Upper)
		}
		return wqi.TwoSided(*t.Lower, *t.Upper), nil
	case t.Upper != nil:
		return wqi.UpperOnly(*t.Upper), nil
	case t.Lower != nil:
		return wqi.LowerOnly(*t.Lower), nil
	}
	return wqi.Bound{}, errors.New("no bound set")
}

// SARIMAOrder converts the configured order.
func (f ForecastConfig) SARIMAOrder() sarima.Order {
	o := f.Order
	return sarima.Order{P: o.P, D: o.D, Q: o.Q, SP: o.SeasonalP, SD: o.SeasonalD, SQ: o.SeasonalQ, M: o.Period}
}

func orderConfig(o sarima.Order) OrderConfig {
	return OrderConfig{P: o.P, D: o.D, Q: o.Q, SeasonalP: o.SP, SeasonalD: o.SD, SeasonalQ: o.SQ, Period: o.M}
}

func thresholdConfig(t wqi.Threshold) ThresholdConfig {
	lo, hi := t.Bound.Lower, t.Bound.Upper
	tc := ThresholdConfig{Name: t.Parameter}
	switch t.Bound.Kind {
	case wqi.KindTwoSided:
		tc.Lower, tc.Upper = &lo, &hi
	case wqi.KindUpper:
		tc.Upper = &hi
	case wqi.KindLower:
		tc.Lower = &lo
	}
	return tc
}
