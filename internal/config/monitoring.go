package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akmatori/contractmon/internal/models"
)

// SeverityThresholds drive the severity escalation state machine
type SeverityThresholds struct {
	InfoPercent         float64       `yaml:"info_percent"`
	WarningPercent      float64       `yaml:"warning_percent"`
	CriticalRepeatCount int           `yaml:"critical_repeat_count"`
	CriticalWindow      time.Duration `yaml:"critical_window"`
}

// RateLimit caps dispatched alerts per contract per window. MaxAlerts 0 disables it.
type RateLimit struct {
	MaxAlerts int           `yaml:"max_alerts"`
	Window    time.Duration `yaml:"window"`
}

// RoutingRule maps violations to channels.
// ContractPattern is a glob matched against the contract name; empty matches all.
type RoutingRule struct {
	Name            string          `yaml:"name"`
	MinSeverity     models.Severity `yaml:"min_severity"`
	ContractPattern string          `yaml:"contract_pattern"`
	Channels        []string        `yaml:"channels"`
	Stop            bool            `yaml:"stop"`
}

// Matches reports whether the rule applies to the given event
func (r RoutingRule) Matches(contractName string, severity models.Severity) bool {
	if !severity.AtLeast(r.MinSeverity) {
		return false
	}
	if r.ContractPattern == "" {
		return true
	}
	ok, err := path.Match(r.ContractPattern, contractName)
	return err == nil && ok
}

// MonitoringConfig is the immutable effective configuration for one contract
type MonitoringConfig struct {
	Intervals          map[models.CheckType]time.Duration `yaml:"intervals"`
	Severity           SeverityThresholds                 `yaml:"severity"`
	Routing            []RoutingRule                      `yaml:"routing"`
	DedupWindow        time.Duration                      `yaml:"dedup_window"`
	RateLimit          RateLimit                          `yaml:"rate_limit"`
	CheckTimeout       time.Duration                      `yaml:"check_timeout"`
	ClockSkewTolerance time.Duration                      `yaml:"clock_skew_tolerance"`
	Retention          time.Duration                      `yaml:"retention"`
	DispatchTimeout    time.Duration                      `yaml:"dispatch_timeout"`
	TrendTolerance     float64                            `yaml:"trend_tolerance"`
	// QualityWeights weights quality dimensions; empty means equal weight per expectation
	QualityWeights map[string]float64 `yaml:"quality_weights"`
}

// DefaultMonitoringConfig returns the global defaults
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		Intervals: map[models.CheckType]time.Duration{
			models.CheckTypeFreshness:    5 * time.Minute,
			models.CheckTypeSchema:       time.Hour,
			models.CheckTypeQuality:      30 * time.Minute,
			models.CheckTypeAvailability: time.Minute,
		},
		Severity: SeverityThresholds{
			InfoPercent:         80,
			WarningPercent:      90,
			CriticalRepeatCount: 3,
			CriticalWindow:      24 * time.Hour,
		},
		Routing: []RoutingRule{
			{Name: "default", MinSeverity: models.SeverityWarning, Channels: []string{"log"}},
		},
		DedupWindow:        30 * time.Minute,
		RateLimit:          RateLimit{MaxAlerts: 10, Window: time.Hour},
		CheckTimeout:       30 * time.Second,
		ClockSkewTolerance: 30 * time.Second,
		Retention:          90 * 24 * time.Hour,
		DispatchTimeout:    10 * time.Second,
		TrendTolerance:     1.0,
	}
}

// Interval returns the configured interval for a check type
func (c MonitoringConfig) Interval(ct models.CheckType) time.Duration {
	return c.Intervals[ct]
}

// Validate rejects configuration the engine must not run with
func (c MonitoringConfig) Validate() error {
	var errs []error

	for _, ct := range models.AllCheckTypes() {
		if c.Intervals[ct] <= 0 {
			errs = append(errs, fmt.Errorf("interval for %s must be positive", ct))
		}
	}
	for ct := range c.Intervals {
		if _, err := models.ParseCheckType(string(ct)); err != nil {
			errs = append(errs, err)
		}
	}

	s := c.Severity
	if s.InfoPercent <= 0 || s.InfoPercent > s.WarningPercent {
		errs = append(errs, fmt.Errorf("severity.info_percent must be positive and not above warning_percent"))
	}
	if s.WarningPercent > 100 {
		errs = append(errs, fmt.Errorf("severity.warning_percent must not exceed 100"))
	}
	if s.CriticalRepeatCount < 1 {
		errs = append(errs, fmt.Errorf("severity.critical_repeat_count must be at least 1"))
	}
	if s.CriticalWindow <= 0 {
		errs = append(errs, fmt.Errorf("severity.critical_window must be positive"))
	}

	if c.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup_window must not be negative"))
	}
	if c.RateLimit.MaxAlerts < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max_alerts must not be negative"))
	}
	if c.RateLimit.MaxAlerts > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive when max_alerts is set"))
	}
	if c.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("check_timeout must be positive"))
	}
	if c.ClockSkewTolerance < 0 {
		errs = append(errs, fmt.Errorf("clock_skew_tolerance must not be negative"))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive"))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch_timeout must be positive"))
	}
	if c.TrendTolerance < 0 {
		errs = append(errs, fmt.Errorf("trend_tolerance must not be negative"))
	}

	if len(c.QualityWeights) > 0 {
		sum := 0.0
		for dim, w := range c.QualityWeights {
			if w < 0 {
				errs = append(errs, fmt.Errorf("quality weight for %q must not be negative", dim))
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			errs = append(errs, fmt.Errorf("quality weights must sum to 1.0, got %.4f", sum))
		}
	}

	for i, rule := range c.Routing {
		if err := validateRoutingRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("routing[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func validateRoutingRule(rule RoutingRule) error {
	if rule.MinSeverity.Rank() == 0 {
		return fmt.Errorf("invalid min_severity %q", rule.MinSeverity)
	}
	if len(rule.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	for _, ch := range rule.Channels {
		if ch == "" {
			return fmt.Errorf("empty channel name")
		}
	}
	if rule.ContractPattern != "" {
		if _, err := path.Match(rule.ContractPattern, ""); err != nil {
			return fmt.Errorf("malformed contract_pattern %q: %w", rule.ContractPattern, err)
		}
	}
	return nil
}

// ChannelNames returns every channel referenced by the routing rules
func (c MonitoringConfig) ChannelNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, rule := range c.Routing {
		for _, ch := range rule.Channels {
			if !seen[ch] {
				seen[ch] = true
				names = append(names, ch)
			}
		}
	}
	return names
}

// LoadMonitoringConfig reads the global monitoring config from a YAML file.
// Fields missing from the file keep their defaults. An empty path yields the defaults.
func LoadMonitoringConfig(filePath string) (MonitoringConfig, error) {
	cfg := DefaultMonitoringConfig()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read monitoring config: %w", err)
	}

	return ParseMonitoringConfig(data)
}

// ParseMonitoringConfig decodes YAML as overrides of the defaults and validates the result
func ParseMonitoringConfig(data []byte) (MonitoringConfig, error) {
	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return MonitoringConfig{}, fmt.Errorf("failed to parse monitoring config: %w", err)
	}

	cfg := DefaultMonitoringConfig().Merge(&overrides)
	if err := cfg.Validate(); err != nil {
		return MonitoringConfig{}, fmt.Errorf("invalid monitoring config: %w", err)
	}
	return cfg, nil
}
