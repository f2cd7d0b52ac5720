package api

import (
	"fmt"
	"time"

	"github.com/akmatori/contractmon/internal/models"
)

// ========== Contract Types ==========

// LocationRequest identifies the contracted table.
type LocationRequest struct {
	Catalog         string `json:"catalog" validate:"omitempty,max=255"`
	Namespace       string `json:"namespace" validate:"omitempty,max=255"`
	Table           string `json:"table" validate:"required,max=255"`
	FreshnessColumn string `json:"freshness_column" validate:"omitempty,max=255"`
}

// ColumnRequest is one declared schema column.
type ColumnRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Type     string `json:"type" validate:"required,max=64"`
	Nullable bool   `json:"nullable"`
	Required bool   `json:"required"`
}

// SLARequest holds SLA thresholds; Freshness is a Go duration string such as "2h".
type SLARequest struct {
	Freshness              string  `json:"freshness" validate:"omitempty,duration"`
	MinQualityScore        float64 `json:"min_quality_score" validate:"gte=0,lte=100"`
	MinAvailability        float64 `json:"min_availability" validate:"gte=0,lte=100"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures" validate:"gte=0"`
}

// RegisterContractRequest is the JSON request body for POST /api/contracts.
// Per-contract monitoring overrides are accepted through the YAML form only.
type RegisterContractRequest struct {
	Name      string          `json:"name" validate:"required,min=1,max=255"`
	Version   string          `json:"version" validate:"required,min=1,max=64"`
	Location  LocationRequest `json:"location"`
	Schema    []ColumnRequest `json:"schema" validate:"omitempty,dive"`
	SLA       SLARequest      `json:"sla"`
	Consumers []string        `json:"consumers" validate:"omitempty,dive,min=1"`
}

// ToContract converts the request into a contract
func (r RegisterContractRequest) ToContract() (models.Contract, error) {
	c := models.Contract{
		Name:    r.Name,
		Version: r.Version,
		Location: models.Location{
			Catalog:         r.Location.Catalog,
			Namespace:       r.Location.Namespace,
			Table:           r.Location.Table,
			FreshnessColumn: r.Location.FreshnessColumn,
		},
		SLA: models.SLA{
			MinQualityScore:        r.SLA.MinQualityScore,
			MinAvailability:        r.SLA.MinAvailability,
			MaxConsecutiveFailures: r.SLA.MaxConsecutiveFailures,
		},
		Consumers: r.Consumers,
	}
	if r.SLA.Freshness != "" {
		d, err := time.ParseDuration(r.SLA.Freshness)
		if err != nil {
			return models.Contract{}, fmt.Errorf("invalid sla.freshness %q", r.SLA.Freshness)
		}
		c.SLA.Freshness = d
	}
	for _, col := range r.Schema {
		c.Schema = append(c.Schema, models.Column{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Required: col.Required,
		})
	}
	return c, nil
}

// ContractResponse is a registered contract as returned by the API.
type ContractResponse struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Location     models.Location   `json:"location"`
	Schema       []models.Column   `json:"schema,omitempty"`
	SLA          SLAResponse       `json:"sla"`
	Consumers    []string          `json:"consumers,omitempty"`
	Intervals    map[string]string `json:"intervals"`
	LastChecks   map[string]string `json:"last_checks"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// SLAResponse renders SLA durations as strings.
type SLAResponse struct {
	Freshness              string  `json:"freshness,omitempty"`
	MinQualityScore        float64 `json:"min_quality_score"`
	MinAvailability        float64 `json:"min_availability"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`
}

// ========== Health Types ==========

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Contracts int       `json:"contracts"`
	InFlight  int       `json:"in_flight"`
	Version   string    `json:"version"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
