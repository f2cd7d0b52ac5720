// Package reporting computes SLA compliance and trends from daily aggregates.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
)

// ErrNoData is returned when a window holds no evaluated checks
var ErrNoData = errors.New("no evaluated checks in window")

// Window is a reporting period ending on the as-of date
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Days returns the window length in days
func (w Window) Days() int {
	switch w {
	case WindowWeekly:
		return 7
	case WindowMonthly:
		return 30
	default:
		return 1
	}
}

// ParseWindow converts a string into a Window
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case WindowDaily, WindowWeekly, WindowMonthly:
		return w, nil
	case "":
		return WindowDaily, nil
	default:
		return "", fmt.Errorf("unknown window %q (daily, weekly, monthly)", s)
	}
}

// Direction of a compliance trend
type Direction string

const (
	Improving Direction = "improving"
	Stable    Direction = "stable"
	Degrading Direction = "degrading"
)

// DefaultTrendPeriods is how many windows a report's trend spans
const DefaultTrendPeriods = 4

// AggregateSource reads daily aggregates. *database.Store implements it.
type AggregateSource interface {
	GetDailyAggregates(ctx context.Context, filter database.AggregateFilter) ([]database.DailyAggregate, error)
}

// Compliance is the pass ratio of one contract over one window
type Compliance struct {
	ContractName  string           `json:"contract_name"`
	CheckType     models.CheckType `json:"check_type,omitempty"`
	Window        Window           `json:"window"`
	From          string           `json:"from"`
	To            string           `json:"to"`
	Passed        int64            `json:"passed"`
	Failed        int64            `json:"failed"`
	Errors        int64            `json:"errors"`
	Violations    int64            `json:"violations"`
	Percent       float64          `json:"compliance_percent"`
	AvgQuality    *float64         `json:"avg_quality_score,omitempty"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
}

// Trend is compliance over successive windows, oldest first
type Trend struct {
	Direction Direction    `json:"direction"`
	Delta     float64      `json:"delta"`
	Points    []Compliance `json:"points"`
}

// Report bundles overall and per check type compliance with the trend
type Report struct {
	ContractName string                          `json:"contract_name"`
	Window       Window                          `json:"window"`
	AsOf         string                          `json:"as_of"`
	Overall      *Compliance                     `json:"overall,omitempty"`
	ByCheckType  map[models.CheckType]Compliance `json:"by_check_type"`
	Trend        *Trend                          `json:"trend,omitempty"`
}

// Reporter computes compliance figures
type Reporter struct {
	source    AggregateSource
	tolerance float64
}

// NewReporter creates a reporter; tolerance is the trend stability band in
// percentage points
func NewReporter(source AggregateSource, tolerance float64) *Reporter {
	return &Reporter{source: source, tolerance: tolerance}
}

// windowBounds returns the inclusive date range of a window ending on asOf
func windowBounds(window Window, asOf time.Time) (string, string) {
	end := asOf.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(window.Days() - 1))
	return start.Format(database.DateLayout), end.Format(database.DateLayout)
}

// ComputeCompliance returns passed/(passed+failed)*100 over the window ending
// on asOf. Errors and skips are excluded. An empty checkType covers all types.
func (r *Reporter) ComputeCompliance(ctx context.Context, contractName string, checkType models.CheckType, window Window, asOf time.Time) (Compliance, error) {
	from, to := windowBounds(window, asOf)
	rows, err := r.source.GetDailyAggregates(ctx, database.AggregateFilter{
		ContractName: contractName,
		CheckType:    checkType,
		From:         from,
		To:           to,
	})
	if err != nil {
		return Compliance{}, err
	}
	return summarize(contractName, checkType, window, from, to, rows)
}

func summarize(contractName string, checkType models.CheckType, window Window, from, to string, rows []database.DailyAggregate) (Compliance, error) {
	c := Compliance{ContractName: contractName, CheckType: checkType, Window: window, From: from, To: to}

	var durationSum float64
	var durationWeight int64
	var qualitySum float64
	var qualityDays int
	for _, row := range rows {
		c.Passed += row.PassedChecks
		c.Failed += row.FailedChecks
		c.Errors += row.ErrorChecks
		c.Violations += row.ViolationCount
		durationSum += row.AvgDurationMs * float64(row.TotalChecks)
		durationWeight += row.TotalChecks
		if row.AvgQualityScore != nil {
			qualitySum += *row.AvgQualityScore
			qualityDays++
		}
	}
	if durationWeight > 0 {
		c.AvgDurationMs = durationSum / float64(durationWeight)
	}
	if qualityDays > 0 {
		avg := qualitySum / float64(qualityDays)
		c.AvgQuality = &avg
	}

	evaluated := c.Passed + c.Failed
	if evaluated == 0 {
		return c, ErrNoData
	}
	c.Percent = float64(c.Passed) / float64(evaluated) * 100
	return c, nil
}

// ComputeTrend evaluates n successive windows ending on asOf. Windows without
// data are left out; with no data at all ErrNoData is returned.
func (r *Reporter) ComputeTrend(ctx context.Context, contractName string, checkType models.CheckType, window Window, n int, asOf time.Time) (Trend, error) {
	if n < 2 {
		n = 2
	}

	var points []Compliance
	for i := n - 1; i >= 0; i-- {
		end := asOf.AddDate(0, 0, -i*window.Days())
		c, err := r.ComputeCompliance(ctx, contractName, checkType, window, end)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return Trend{}, err
		}
		points = append(points, c)
	}
	if len(points) == 0 {
		return Trend{}, ErrNoData
	}

	trend := Trend{Direction: Stable, Points: points}
	trend.Delta = points[len(points)-1].Percent - points[0].Percent
	switch {
	case trend.Delta > r.tolerance:
		trend.Direction = Improving
	case trend.Delta < -r.tolerance:
		trend.Direction = Degrading
	}
	return trend, nil
}

// Report computes overall and per check type compliance plus the overall trend
func (r *Reporter) Report(ctx context.Context, contractName string, window Window, asOf time.Time) (Report, error) {
	report := Report{
		ContractName: contractName,
		Window:       window,
		AsOf:         asOf.UTC().Format(database.DateLayout),
		ByCheckType:  make(map[models.CheckType]Compliance),
	}

	overall, err := r.ComputeCompliance(ctx, contractName, "", window, asOf)
	if errors.Is(err, ErrNoData) {
		return report, ErrNoData
	}
	if err != nil {
		return report, err
	}
	report.Overall = &overall

	for _, ct := range models.AllCheckTypes() {
		c, err := r.ComputeCompliance(ctx, contractName, ct, window, asOf)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return report, err
		}
		report.ByCheckType[ct] = c
	}

	trend, err := r.ComputeTrend(ctx, contractName, "", window, DefaultTrendPeriods, asOf)
	if err != nil && !errors.Is(err, ErrNoData) {
		return report, err
	}
	if err == nil {
		report.Trend = &trend
	}
	return report, nil
}
