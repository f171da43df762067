package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Thresholds are the caller-tunable limits a screening compares against.
type Thresholds struct {
	Click      float64 `json:"click" mapstructure:"click"`
	Order      float64 `json:"order" mapstructure:"order"`
	ACOS       float64 `json:"acos" mapstructure:"acos"`
	Conversion float64 `json:"conversion" mapstructure:"conversion"`
	Spend      float64 `json:"spend" mapstructure:"spend"`
	ClickRate  float64 `json:"clickRate" mapstructure:"click_rate"`
}

// DefaultThresholds returns the thresholds used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Click:      10,
		Order:      1,
		ACOS:       0.30,
		Conversion: 0.10,
		Spend:      2.0,
		ClickRate:  0.003,
	}
}

// ThresholdSpec describes how one submitted threshold is validated.
type ThresholdSpec struct {
	Field   string
	Integer bool
	Min     float64
	Max     float64 // zero means unbounded
	set     func(*Thresholds, float64)
}

// ThresholdSpecs lists the accepted form fields.
var ThresholdSpecs = []ThresholdSpec{
	{Field: "click_threshold", Integer: true, set: func(t *Thresholds, v float64) { t.Click = v }},
	{Field: "click_rate_threshold", Max: 100, set: func(t *Thresholds, v float64) { t.ClickRate = v }},
	{Field: "spend_threshold", set: func(t *Thresholds, v float64) { t.Spend = v }},
	{Field: "order_threshold", Integer: true, set: func(t *Thresholds, v float64) { t.Order = v }},
	{Field: "conversion_threshold", Max: 100, set: func(t *Thresholds, v float64) { t.Conversion = v }},
	{Field: "acos_threshold", set: func(t *Thresholds, v float64) { t.ACOS = v }},
}

// ThresholdError reports a submitted threshold that failed validation.
type ThresholdError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParseThresholds reads thresholds through lookup, keeping defaults for
// fields that are blank.
func ParseThresholds(lookup func(field string) string, defaults Thresholds) (Thresholds, error) {
	out := defaults
	for _, spec := range ThresholdSpecs {
		raw := strings.TrimSpace(lookup(spec.Field))
		if raw == "" {
			continue
		}
		v, err := spec.parse(raw)
		if err != nil {
			return defaults, err
		}
		spec.set(&out, v)
	}
	return out, nil
}

func (s ThresholdSpec) parse(raw string) (float64, error) {
	var v float64
	if s.Integer {
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, &ThresholdError{Field: s.Field, Value: raw, Reason: "must be an integer"}
		}
		v = float64(i)
	} else {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, &ThresholdError{Field: s.Field, Value: raw, Reason: "must be a number"}
		}
		v = f
	}
	if v < s.Min {
		return 0, &ThresholdError{Field: s.Field, Value: raw, Reason: fmt.Sprintf("below minimum %g", s.Min)}
	}
	if s.Max > 0 && v > s.Max {
		return 0, &ThresholdError{Field: s.Field, Value: raw, Reason: fmt.Sprintf("exceeds maximum %g", s.Max)}
	}
	return v, nil
}

// ParseIdentifiers splits a comma-separated identifier filter.
// Entries are trimmed, blanks dropped and duplicates removed keeping first position.
func ParseIdentifiers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
