package models

import (
	"fmt"
	"strings"
	"time"
)

// Column is one declared column of a contract schema
type Column struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Nullable bool   `yaml:"nullable" json:"nullable"`
	Required bool   `yaml:"required" json:"required"`
}

// Location identifies where the contracted dataset lives
type Location struct {
	Catalog         string `yaml:"catalog" json:"catalog"`
	Namespace       string `yaml:"namespace" json:"namespace"`
	Table           string `yaml:"table" json:"table"`
	FreshnessColumn string `yaml:"freshness_column" json:"freshness_column,omitempty"` // timestamp column used for freshness
}

// QualifiedName returns namespace.table
func (l Location) QualifiedName() string {
	if l.Namespace == "" {
		return l.Table
	}
	return l.Namespace + "." + l.Table
}

// SLA holds the thresholds a contract promises to uphold
type SLA struct {
	Freshness              time.Duration `yaml:"freshness" json:"freshness"`                               // max data age
	MinQualityScore        float64       `yaml:"min_quality_score" json:"min_quality_score"`               // 0-100
	MinAvailability        float64       `yaml:"min_availability" json:"min_availability"`                 // percent over the trailing 24h
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"` // 0 disables the counter rule
}

// Contract is an already-resolved data contract definition
type Contract struct {
	Name      string   `yaml:"name" json:"name"`
	Version   string   `yaml:"version" json:"version"`
	Location  Location `yaml:"location" json:"location"`
	Schema    []Column `yaml:"schema" json:"schema"`
	SLA       SLA      `yaml:"sla" json:"sla"`
	Consumers []string `yaml:"consumers" json:"consumers,omitempty"`
}

// Key returns the registry identity of the contract (name@version)
func (c Contract) Key() string {
	return c.Name + "@" + c.Version
}

// Validate checks that the contract carries the fields the engine needs
func (c Contract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("contract name is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("contract %s: version is required", c.Name)
	}
	if c.Location.Table == "" {
		return fmt.Errorf("contract %s: location.table is required", c.Name)
	}
	if c.SLA.Freshness < 0 {
		return fmt.Errorf("contract %s: sla.freshness must not be negative", c.Name)
	}
	if c.SLA.MinQualityScore < 0 || c.SLA.MinQualityScore > 100 {
		return fmt.Errorf("contract %s: sla.min_quality_score must be within 0-100", c.Name)
	}
	if c.SLA.MinAvailability < 0 || c.SLA.MinAvailability > 100 {
		return fmt.Errorf("contract %s: sla.min_availability must be within 0-100", c.Name)
	}
	seen := make(map[string]bool, len(c.Schema))
	for _, col := range c.Schema {
		key := strings.ToLower(col.Name)
		if key == "" {
			return fmt.Errorf("contract %s: schema column without name", c.Name)
		}
		if seen[key] {
			return fmt.Errorf("contract %s: duplicate schema column %q", c.Name, col.Name)
		}
		seen[key] = true
	}
	return nil
}
