package database

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/akmatori/contractmon/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db)
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestOpen_UnsupportedDSN(t *testing.T) {
	if _, err := Open("mysql://localhost/db", logger.Silent); err == nil {
		t.Fatal("expected error for unsupported DSN")
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{CheckResultRecord{}.TableName(), "check_results"},
		{ViolationRecord{}.TableName(), "violations"},
		{SLAStatus{}.TableName(), "sla_statuses"},
		{DailyAggregate{}.TableName(), "daily_aggregates"},
		{AlertDedupState{}.TableName(), "alert_dedup_states"},
		{AlertRateState{}.TableName(), "alert_rate_states"},
		{RegisteredContractRecord{}.TableName(), "registered_contracts"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected table name %q, got %q", tt.want, tt.got)
		}
	}
}

func TestCheckResult_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	event := models.ContractViolationEvent{
		ID:                "0d7c5a4e-1111-4a5b-9c2d-000000000001",
		ContractName:      "orders",
		ContractVersion:   "1.2.0",
		ViolationType:     models.ViolationFreshness,
		Severity:          models.SeverityError,
		Message:           "data is 2h 10m old",
		Element:           "updated_at",
		ExpectedValue:     "2h",
		ActualValue:       "2h 10m",
		Timestamp:         baseTime,
		AffectedConsumers: []string{"billing", "finance"},
		CheckDuration:     1500 * time.Millisecond,
	}
	result := models.CheckResult{
		ContractName:    "orders",
		ContractVersion: "1.2.0",
		CheckType:       models.CheckTypeFreshness,
		Status:          models.CheckStatusFail,
		Duration:        1500 * time.Millisecond,
		Timestamp:       baseTime,
		Details:         map[string]interface{}{"table": "sales.orders", "age_seconds": float64(7800)},
		Measurement:     &models.Measurement{Value: 7800, Threshold: 7200, ConsumptionPercent: 108.33, Breached: true},
		Findings: []models.Finding{
			{ViolationType: models.ViolationFreshness, Message: "data is 2h 10m old", Element: "updated_at"},
		},
		Violation: &event,
	}

	if err := store.SaveCheckResult(ctx, &result); err != nil {
		t.Fatalf("SaveCheckResult failed: %v", err)
	}
	if result.ID == "" {
		t.Fatal("expected generated ID")
	}
	if err := store.SaveViolation(ctx, result.ID, &event); err != nil {
		t.Fatalf("SaveViolation failed: %v", err)
	}

	got, err := store.GetCheckResult(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetCheckResult failed: %v", err)
	}

	if got.ContractName != result.ContractName || got.ContractVersion != result.ContractVersion {
		t.Errorf("contract mismatch: %+v", got)
	}
	if got.CheckType != result.CheckType || got.Status != result.Status {
		t.Errorf("type/status mismatch: %s/%s", got.CheckType, got.Status)
	}
	if got.Duration != result.Duration {
		t.Errorf("expected duration %v, got %v", result.Duration, got.Duration)
	}
	if !got.Timestamp.Equal(result.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", result.Timestamp, got.Timestamp)
	}
	if got.Details["table"] != "sales.orders" || got.Details["age_seconds"] != float64(7800) {
		t.Errorf("details mismatch: %v", got.Details)
	}
	if got.Measurement == nil || *got.Measurement != *result.Measurement {
		t.Errorf("measurement mismatch: %+v", got.Measurement)
	}
	if len(got.Findings) != 1 || got.Findings[0] != result.Findings[0] {
		t.Errorf("findings mismatch: %+v", got.Findings)
	}
	if got.Violation == nil {
		t.Fatal("expected embedded violation")
	}
	v := got.Violation
	if v.ID != event.ID || v.Severity != event.Severity || v.ViolationType != event.ViolationType {
		t.Errorf("violation mismatch: %+v", v)
	}
	if v.ExpectedValue != "2h" || v.ActualValue != "2h 10m" || v.Element != "updated_at" {
		t.Errorf("violation values mismatch: %+v", v)
	}
	if len(v.AffectedConsumers) != 2 || v.AffectedConsumers[1] != "finance" {
		t.Errorf("consumers mismatch: %v", v.AffectedConsumers)
	}
	if v.CheckDuration != event.CheckDuration || !v.Timestamp.Equal(event.Timestamp) {
		t.Errorf("violation timing mismatch: %+v", v)
	}
}

func TestGetCheckResult_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetCheckResult(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveViolation_InfoNotPersisted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	info := models.ContractViolationEvent{
		ContractName:  "orders",
		ViolationType: models.ViolationFreshness,
		Severity:      models.SeverityInfo,
		Timestamp:     baseTime,
	}
	if err := store.SaveViolation(ctx, "r1", &info); err != nil {
		t.Fatalf("SaveViolation failed: %v", err)
	}

	_, total, err := store.GetViolations(ctx, ViolationFilter{})
	if err != nil {
		t.Fatalf("GetViolations failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected info event not to be persisted, got %d rows", total)
	}
}

func saveViolation(t *testing.T, store *Store, name string, vt models.ViolationType, sev models.Severity, at time.Time) {
	t.Helper()
	e := models.ContractViolationEvent{
		ContractName:    name,
		ContractVersion: "1.0.0",
		ViolationType:   vt,
		Severity:        sev,
		Message:         "test",
		Timestamp:       at,
	}
	if err := store.SaveViolation(context.Background(), "r", &e); err != nil {
		t.Fatalf("SaveViolation failed: %v", err)
	}
}

func TestCountRecentViolations_OnlyBreachesInWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityError, baseTime.Add(-2*time.Hour))
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityCritical, baseTime.Add(-time.Hour))
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityWarning, baseTime.Add(-time.Hour))
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityError, baseTime.Add(-30*time.Hour))
	saveViolation(t, store, "orders", models.ViolationQuality, models.SeverityError, baseTime.Add(-time.Hour))
	saveViolation(t, store, "customers", models.ViolationFreshness, models.SeverityError, baseTime.Add(-time.Hour))

	count, err := store.CountRecentViolations(ctx, "orders", models.ViolationFreshness, baseTime.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountRecentViolations failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 recent breaches, got %d", count)
	}
}

func TestGetViolations_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityWarning, baseTime.Add(-3*time.Hour))
	saveViolation(t, store, "orders", models.ViolationQuality, models.SeverityError, baseTime.Add(-2*time.Hour))
	saveViolation(t, store, "customers", models.ViolationColumnRemoved, models.SeverityCritical, baseTime.Add(-time.Hour))

	events, total, err := store.GetViolations(ctx, ViolationFilter{MinSeverity: models.SeverityError})
	if err != nil {
		t.Fatalf("GetViolations failed: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("expected 2 violations, got %d (%d)", len(events), total)
	}
	if events[0].ContractName != "customers" {
		t.Errorf("expected newest first, got %s", events[0].ContractName)
	}

	events, _, err = store.GetViolations(ctx, ViolationFilter{ContractName: "orders", Limit: 1})
	if err != nil {
		t.Fatalf("GetViolations failed: %v", err)
	}
	if len(events) != 1 || events[0].ViolationType != models.ViolationQuality {
		t.Errorf("expected latest orders violation, got %+v", events)
	}
}

func saveResult(t *testing.T, store *Store, name string, ct models.CheckType, status models.CheckStatus, at time.Time, value float64) {
	t.Helper()
	r := models.CheckResult{
		ContractName:    name,
		ContractVersion: "1.0.0",
		CheckType:       ct,
		Status:          status,
		Duration:        100 * time.Millisecond,
		Timestamp:       at,
	}
	if status == models.CheckStatusPass || status == models.CheckStatusFail {
		r.Measurement = &models.Measurement{Value: value, Threshold: 90}
	}
	if err := store.SaveCheckResult(context.Background(), &r); err != nil {
		t.Fatalf("SaveCheckResult failed: %v", err)
	}
}

func TestUpsertSLAStatus_ConsecutiveFailuresAndCompliance(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	steps := []struct {
		status      models.CheckStatus
		wantFails   int
		wantPercent float64
	}{
		{models.CheckStatusPass, 0, 100},
		{models.CheckStatusFail, 1, 50},
		{models.CheckStatusError, 1, 50}, // errors neither count nor reset
		{models.CheckStatusFail, 2, 100.0 / 3},
		{models.CheckStatusPass, 0, 50},
	}

	for i, step := range steps {
		at := baseTime.Add(time.Duration(i) * time.Minute)
		saveResult(t, store, "orders", models.CheckTypeQuality, step.status, at, 80)

		row, err := store.UpsertSLAStatus(ctx, SLAUpdate{
			ContractName: "orders",
			CheckType:    models.CheckTypeQuality,
			Status:       step.status,
			Measurement:  &models.Measurement{Value: 80, Threshold: 90},
			CheckedAt:    at,
		})
		if err != nil {
			t.Fatalf("step %d: UpsertSLAStatus failed: %v", i, err)
		}
		if row.ConsecutiveFailures != step.wantFails {
			t.Errorf("step %d: expected %d consecutive failures, got %d", i, step.wantFails, row.ConsecutiveFailures)
		}
		if diff := row.CompliancePercent - step.wantPercent; diff > 0.001 || diff < -0.001 {
			t.Errorf("step %d: expected compliance %.2f, got %.2f", i, step.wantPercent, row.CompliancePercent)
		}
	}

	rows, err := store.ListSLAStatuses(ctx, "orders")
	if err != nil {
		t.Fatalf("ListSLAStatuses failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single row per (contract, check type), got %d", len(rows))
	}
	if rows[0].LastStatus != string(models.CheckStatusPass) {
		t.Errorf("expected last status pass, got %s", rows[0].LastStatus)
	}
	if !rows[0].WindowStart.Equal(baseTime.Add(4*time.Minute - 24*time.Hour)) {
		t.Errorf("unexpected window start %v", rows[0].WindowStart)
	}
}

func TestUpsertSLAStatus_CountsBreaches(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityError, baseTime.Add(-time.Hour))
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityWarning, baseTime.Add(-time.Hour))
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityCritical, baseTime.Add(-25*time.Hour))

	row, err := store.UpsertSLAStatus(ctx, SLAUpdate{
		ContractName: "orders",
		CheckType:    models.CheckTypeFreshness,
		Status:       models.CheckStatusFail,
		CheckedAt:    baseTime,
	})
	if err != nil {
		t.Fatalf("UpsertSLAStatus failed: %v", err)
	}
	if row.ViolationCount24h != 1 {
		t.Errorf("expected 1 breach in 24h, got %d", row.ViolationCount24h)
	}
}

func TestUpsertSLAStatus_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertSLAStatus(ctx, SLAUpdate{
				ContractName: "orders",
				CheckType:    models.CheckTypeAvailability,
				Status:       models.CheckStatusFail,
				CheckedAt:    baseTime.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Errorf("UpsertSLAStatus failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	row, err := store.GetSLAStatus(ctx, "orders", models.CheckTypeAvailability)
	if err != nil {
		t.Fatalf("GetSLAStatus failed: %v", err)
	}
	if row.ConsecutiveFailures != 10 {
		t.Errorf("expected 10 consecutive failures without lost updates, got %d", row.ConsecutiveFailures)
	}
}

func TestGetSLAStatus_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetSLAStatus(context.Background(), "orders", models.CheckTypeSchema)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveResult(t, store, "orders", models.CheckTypeFreshness, models.CheckStatusPass, baseTime.Add(-100*24*time.Hour), 10)
	saveResult(t, store, "orders", models.CheckTypeFreshness, models.CheckStatusPass, baseTime.Add(-time.Hour), 10)
	saveViolation(t, store, "orders", models.ViolationFreshness, models.SeverityError, baseTime.Add(-100*24*time.Hour))

	if _, err := store.UpsertSLAStatus(ctx, SLAUpdate{
		ContractName: "orders", CheckType: models.CheckTypeFreshness, Status: models.CheckStatusPass, CheckedAt: baseTime,
	}); err != nil {
		t.Fatalf("UpsertSLAStatus failed: %v", err)
	}

	stats, err := store.CleanupExpired(ctx, baseTime.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if stats.CheckResults != 1 || stats.Violations != 1 {
		t.Errorf("unexpected cleanup stats: %+v", stats)
	}

	if _, err := store.GetSLAStatus(ctx, "orders", models.CheckTypeFreshness); err != nil {
		t.Errorf("SLA status must survive cleanup: %v", err)
	}
}

func TestCheckResult_DetailsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		checkType models.CheckType
		details   map[string]interface{}
	}{
		{"schema drift", models.CheckTypeSchema, map[string]interface{}{
			"table":            "sales.orders",
			"declared_columns": 3,
			"actual_columns":   4,
		}},
		{"availability", models.CheckTypeAvailability, map[string]interface{}{
			"healthy":              false,
			"latency_ms":           int64(12),
			"uptime_percent":       97.5,
			"consecutive_failures": 2,
		}},
		{"quality", models.CheckTypeQuality, map[string]interface{}{
			"score":               91.25,
			"expectations":        8,
			"failed_expectations": []string{"not_null(order_id)", "unique(order_id)"},
		}},
		{"no details", models.CheckTypeFreshness, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := models.CheckResult{
				ContractName: "orders",
				CheckType:    tt.checkType,
				Status:       models.CheckStatusPass,
				Timestamp:    baseTime,
				Details:      tt.details,
			}
			if err := store.SaveCheckResult(ctx, &result); err != nil {
				t.Fatalf("SaveCheckResult failed: %v", err)
			}
			got, err := store.GetCheckResult(ctx, result.ID)
			if err != nil {
				t.Fatalf("GetCheckResult failed: %v", err)
			}
			if !reflect.DeepEqual(got.Details, result.Details) {
				t.Errorf("details changed across the store:\nsaved %#v\nread  %#v", result.Details, got.Details)
			}
		})
	}
}

func TestSaveCheckResult_NormalizesDetails(t *testing.T) {
	store := setupTestStore(t)

	result := models.CheckResult{
		ContractName: "orders",
		CheckType:    models.CheckTypeQuality,
		Status:       models.CheckStatusFail,
		Timestamp:    baseTime,
		Details: map[string]interface{}{
			"expectations":        8,
			"failed_expectations": []string{"unique(order_id)"},
		},
	}
	if err := store.SaveCheckResult(context.Background(), &result); err != nil {
		t.Fatalf("SaveCheckResult failed: %v", err)
	}
	if result.Details["expectations"] != float64(8) {
		t.Errorf("expected numeric detail as float64, got %#v", result.Details["expectations"])
	}
	failed, ok := result.Details["failed_expectations"].([]interface{})
	if !ok || len(failed) != 1 || failed[0] != "unique(order_id)" {
		t.Errorf("expected list detail as []interface{}, got %#v", result.Details["failed_expectations"])
	}
}

func TestListCheckResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	save := func(ct models.CheckType, at time.Time, healthy bool) {
		t.Helper()
		r := models.CheckResult{
			ContractName: "orders",
			CheckType:    ct,
			Status:       models.CheckStatusPass,
			Timestamp:    at,
			Details:      map[string]interface{}{"healthy": healthy, "consecutive_failures": 0},
		}
		if err := store.SaveCheckResult(ctx, &r); err != nil {
			t.Fatalf("SaveCheckResult failed: %v", err)
		}
	}
	save(models.CheckTypeAvailability, baseTime.Add(-25*time.Hour), true)
	save(models.CheckTypeAvailability, baseTime.Add(-time.Hour), false)
	save(models.CheckTypeAvailability, baseTime.Add(-2*time.Hour), true)
	save(models.CheckTypeFreshness, baseTime.Add(-time.Hour), true)

	results, err := store.ListCheckResults(ctx, "orders", models.CheckTypeAvailability, baseTime.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListCheckResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results in the window, got %d", len(results))
	}
	if !results[0].Timestamp.Equal(baseTime.Add(-2*time.Hour)) || !results[1].Timestamp.Equal(baseTime.Add(-time.Hour)) {
		t.Errorf("expected oldest first, got %v then %v", results[0].Timestamp, results[1].Timestamp)
	}
	if results[1].Details["healthy"] != false || results[1].Details["consecutive_failures"] != float64(0) {
		t.Errorf("unexpected details: %v", results[1].Details)
	}
}
