package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
)

// Page bounds for list endpoints
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is a 1-based page of a list endpoint
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page and per_page. Invalid values fall back to the
// defaults and per_page is capped at MaxPageSize.
func ParsePage(q url.Values) Page {
	p := Page{Number: 1, Size: DefaultPageSize}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil && n > 0 {
		p.Size = min(n, MaxPageSize)
	}
	return p
}

// Offset is the number of rows before this page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Meta describes this page of a list holding total rows
func (p Page) Meta(total int64) PaginationMeta {
	pages := 0
	if p.Size > 0 {
		pages = int((total + int64(p.Size) - 1) / int64(p.Size))
	}
	return PaginationMeta{Page: p.Number, PerPage: p.Size, Total: total, TotalPages: pages}
}

// ViolationQuery holds the filters of GET /api/violations
type ViolationQuery struct {
	Contract    string `query:"contract" validate:"omitempty,max=255"`
	Type        string `query:"type" validate:"omitempty,oneof=freshness schema_drift column_added column_removed type_changed nullability_changed quality availability"`
	MinSeverity string `query:"min_severity" validate:"omitempty,oneof=info warning error critical"`
	Since       string `query:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Until       string `query:"until" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Page        Page   `query:"-"`
}

// ParseViolationQuery reads the violation filters. Type and severity are
// matched case-insensitively.
func ParseViolationQuery(q url.Values) ViolationQuery {
	return ViolationQuery{
		Contract:    strings.TrimSpace(q.Get("contract")),
		Type:        strings.ToLower(strings.TrimSpace(q.Get("type"))),
		MinSeverity: strings.ToLower(strings.TrimSpace(q.Get("min_severity"))),
		Since:       strings.TrimSpace(q.Get("since")),
		Until:       strings.TrimSpace(q.Get("until")),
		Page:        ParsePage(q),
	}
}

// Filter converts a validated query into a store filter
func (v ViolationQuery) Filter() (database.ViolationFilter, error) {
	filter := database.ViolationFilter{
		ContractName:  v.Contract,
		ViolationType: models.ViolationType(v.Type),
		Limit:         v.Page.Size,
		Offset:        v.Page.Offset(),
	}
	if v.MinSeverity != "" {
		sev, err := models.ParseSeverity(v.MinSeverity)
		if err != nil {
			return database.ViolationFilter{}, err
		}
		filter.MinSeverity = sev
	}
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{{v.Since, &filter.Since}, {v.Until, &filter.Until}} {
		if f.raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, f.raw)
		if err != nil {
			return database.ViolationFilter{}, err
		}
		*f.dst = ts
	}
	return filter, nil
}
