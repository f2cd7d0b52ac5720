package config

import (
	"time"

	"github.com/akmatori/contractmon/internal/models"
)

// SeverityOverrides overrides individual severity thresholds
type SeverityOverrides struct {
	InfoPercent         *float64       `yaml:"info_percent" json:"info_percent,omitempty"`
	WarningPercent      *float64       `yaml:"warning_percent" json:"warning_percent,omitempty"`
	CriticalRepeatCount *int           `yaml:"critical_repeat_count" json:"critical_repeat_count,omitempty"`
	CriticalWindow      *time.Duration `yaml:"critical_window" json:"critical_window,omitempty"`
}

// RateLimitOverrides overrides individual rate-limit parameters
type RateLimitOverrides struct {
	MaxAlerts *int           `yaml:"max_alerts" json:"max_alerts,omitempty"`
	Window    *time.Duration `yaml:"window" json:"window,omitempty"`
}

// Overrides is a sparse MonitoringConfig. Nil fields inherit from the parent.
// Routing and QualityWeights replace the parent value as a whole when set.
type Overrides struct {
	Intervals          map[models.CheckType]time.Duration `yaml:"intervals" json:"intervals,omitempty"`
	Severity           *SeverityOverrides                 `yaml:"severity" json:"severity,omitempty"`
	Routing            []RoutingRule                      `yaml:"routing" json:"routing,omitempty"`
	DedupWindow        *time.Duration                     `yaml:"dedup_window" json:"dedup_window,omitempty"`
	RateLimit          *RateLimitOverrides                `yaml:"rate_limit" json:"rate_limit,omitempty"`
	CheckTimeout       *time.Duration                     `yaml:"check_timeout" json:"check_timeout,omitempty"`
	ClockSkewTolerance *time.Duration                     `yaml:"clock_skew_tolerance" json:"clock_skew_tolerance,omitempty"`
	Retention          *time.Duration                     `yaml:"retention" json:"retention,omitempty"`
	DispatchTimeout    *time.Duration                     `yaml:"dispatch_timeout" json:"dispatch_timeout,omitempty"`
	TrendTolerance     *float64                           `yaml:"trend_tolerance" json:"trend_tolerance,omitempty"`
	QualityWeights     map[string]float64                 `yaml:"quality_weights" json:"quality_weights,omitempty"`
}

// Merge returns a copy of c with every set field of o applied on top.
// The receiver is never modified.
func (c MonitoringConfig) Merge(o *Overrides) MonitoringConfig {
	out := c.clone()
	if o == nil {
		return out
	}

	for ct, d := range o.Intervals {
		out.Intervals[ct] = d
	}

	if s := o.Severity; s != nil {
		if s.InfoPercent != nil {
			out.Severity.InfoPercent = *s.InfoPercent
		}
		if s.WarningPercent != nil {
			out.Severity.WarningPercent = *s.WarningPercent
		}
		if s.CriticalRepeatCount != nil {
			out.Severity.CriticalRepeatCount = *s.CriticalRepeatCount
		}
		if s.CriticalWindow != nil {
			out.Severity.CriticalWindow = *s.CriticalWindow
		}
	}

	if o.Routing != nil {
		out.Routing = append([]RoutingRule(nil), o.Routing...)
	}
	if o.DedupWindow != nil {
		out.DedupWindow = *o.DedupWindow
	}
	if r := o.RateLimit; r != nil {
		if r.MaxAlerts != nil {
			out.RateLimit.MaxAlerts = *r.MaxAlerts
		}
		if r.Window != nil {
			out.RateLimit.Window = *r.Window
		}
	}
	if o.CheckTimeout != nil {
		out.CheckTimeout = *o.CheckTimeout
	}
	if o.ClockSkewTolerance != nil {
		out.ClockSkewTolerance = *o.ClockSkewTolerance
	}
	if o.Retention != nil {
		out.Retention = *o.Retention
	}
	if o.DispatchTimeout != nil {
		out.DispatchTimeout = *o.DispatchTimeout
	}
	if o.TrendTolerance != nil {
		out.TrendTolerance = *o.TrendTolerance
	}
	if o.QualityWeights != nil {
		out.QualityWeights = make(map[string]float64, len(o.QualityWeights))
		for k, v := range o.QualityWeights {
			out.QualityWeights[k] = v
		}
	}

	return out
}

// clone deep-copies the map and slice fields so merged configs never alias
func (c MonitoringConfig) clone() MonitoringConfig {
	out := c
	out.Intervals = make(map[models.CheckType]time.Duration, len(c.Intervals))
	for k, v := range c.Intervals {
		out.Intervals[k] = v
	}
	out.Routing = make([]RoutingRule, len(c.Routing))
	for i, rule := range c.Routing {
		rule.Channels = append([]string(nil), rule.Channels...)
		out.Routing[i] = rule
	}
	if c.QualityWeights != nil {
		out.QualityWeights = make(map[string]float64, len(c.QualityWeights))
		for k, v := range c.QualityWeights {
			out.QualityWeights[k] = v
		}
	}
	return out
}
