package database

import (
	"context"
	"testing"
	"time"

	"github.com/akmatori/contractmon/internal/models"
)

func TestRollupDaily(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	saveResult(t, store, "orders", models.CheckTypeQuality, models.CheckStatusPass, day.Add(1*time.Hour), 95)
	saveResult(t, store, "orders", models.CheckTypeQuality, models.CheckStatusPass, day.Add(2*time.Hour), 91)
	saveResult(t, store, "orders", models.CheckTypeQuality, models.CheckStatusFail, day.Add(3*time.Hour), 70)
	saveResult(t, store, "orders", models.CheckTypeQuality, models.CheckStatusError, day.Add(4*time.Hour), 0)
	saveResult(t, store, "orders", models.CheckTypeFreshness, models.CheckStatusPass, day.Add(5*time.Hour), 60)
	// next day, must not be included
	saveResult(t, store, "orders", models.CheckTypeQuality, models.CheckStatusFail, day.Add(25*time.Hour), 10)
	saveViolation(t, store, "orders", models.ViolationQuality, models.SeverityError, day.Add(3*time.Hour))

	written, err := store.RollupDaily(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("RollupDaily failed: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 aggregate rows, got %d", written)
	}

	aggs, err := store.GetDailyAggregates(ctx, AggregateFilter{
		ContractName: "orders",
		CheckType:    models.CheckTypeQuality,
		From:         "2026-03-09",
		To:           "2026-03-09",
	})
	if err != nil {
		t.Fatalf("GetDailyAggregates failed: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected 1 quality aggregate, got %d", len(aggs))
	}
	agg := aggs[0]
	if agg.TotalChecks != 4 || agg.PassedChecks != 2 || agg.FailedChecks != 1 || agg.ErrorChecks != 1 {
		t.Errorf("unexpected counts: %+v", agg)
	}
	if agg.ViolationCount != 1 {
		t.Errorf("expected 1 violation, got %d", agg.ViolationCount)
	}
	if agg.MinQualityScore == nil || *agg.MinQualityScore != 70 {
		t.Errorf("expected min quality 70, got %v", agg.MinQualityScore)
	}
	if agg.MaxQualityScore == nil || *agg.MaxQualityScore != 95 {
		t.Errorf("expected max quality 95, got %v", agg.MaxQualityScore)
	}
	if diff := agg.UptimePercent - 200.0/3; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected uptime 66.67, got %.2f", agg.UptimePercent)
	}
	if agg.AvgDurationMs != 100 {
		t.Errorf("expected avg duration 100ms, got %.2f", agg.AvgDurationMs)
	}

	fresh, err := store.GetDailyAggregates(ctx, AggregateFilter{ContractName: "orders", CheckType: models.CheckTypeFreshness})
	if err != nil {
		t.Fatalf("GetDailyAggregates failed: %v", err)
	}
	if len(fresh) != 1 || fresh[0].MinQualityScore != nil {
		t.Errorf("freshness aggregate must not carry quality scores: %+v", fresh)
	}
}

func TestRollupDaily_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	saveResult(t, store, "orders", models.CheckTypeSchema, models.CheckStatusPass, day.Add(time.Hour), 0)
	if _, err := store.RollupDaily(ctx, day); err != nil {
		t.Fatalf("first rollup failed: %v", err)
	}
	saveResult(t, store, "orders", models.CheckTypeSchema, models.CheckStatusFail, day.Add(2*time.Hour), 1)
	if _, err := store.RollupDaily(ctx, day); err != nil {
		t.Fatalf("second rollup failed: %v", err)
	}

	aggs, err := store.GetDailyAggregates(ctx, AggregateFilter{ContractName: "orders"})
	if err != nil {
		t.Fatalf("GetDailyAggregates failed: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected one row per (contract, check type, date), got %d", len(aggs))
	}
	if aggs[0].TotalChecks != 2 || aggs[0].FailedChecks != 1 {
		t.Errorf("expected refreshed counts, got %+v", aggs[0])
	}
}

func TestGetDailyAggregates_DateRange(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2026-03-01", "2026-03-05", "2026-03-09"} {
		agg := DailyAggregate{ContractName: "orders", CheckType: "freshness", Date: date, PassedChecks: 10}
		if err := store.SaveDailyAggregate(ctx, &agg); err != nil {
			t.Fatalf("SaveDailyAggregate failed: %v", err)
		}
	}

	aggs, err := store.GetDailyAggregates(ctx, AggregateFilter{ContractName: "orders", From: "2026-03-02", To: "2026-03-09"})
	if err != nil {
		t.Fatalf("GetDailyAggregates failed: %v", err)
	}
	if len(aggs) != 2 || aggs[0].Date != "2026-03-05" {
		t.Errorf("unexpected aggregates: %+v", aggs)
	}
}
