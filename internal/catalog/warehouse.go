// Package catalog reads deployed table definitions from a SQL warehouse and
// probes its reachability.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/akmatori/contractmon/internal/checks"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// ErrTableNotFound is returned when the warehouse has no such table
var ErrTableNotFound = errors.New("table not found")

// ErrNoFreshnessColumn is returned for freshness reads on a location without one
var ErrNoFreshnessColumn = errors.New("no freshness column configured")

// timestampLayouts are tried in order when a driver returns text timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Warehouse implements checks.Catalog and checks.HealthProber over gorm.
// PostgreSQL is read through information_schema, SQLite through its pragmas.
type Warehouse struct {
	db *gorm.DB
}

// NewWarehouse creates a warehouse over an open connection
func NewWarehouse(db *gorm.DB) *Warehouse {
	return &Warehouse{db: db}
}

func (w *Warehouse) isSQLite() bool {
	return w.db.Dialector.Name() == "sqlite"
}

func (w *Warehouse) quote(name string) string {
	var b strings.Builder
	w.db.Dialector.QuoteTo(&b, name)
	return b.String()
}

// ListNamespaces returns the user schemas
func (w *Warehouse) ListNamespaces(ctx context.Context) ([]string, error) {
	var names []string
	var err error
	if w.isSQLite() {
		err = w.db.WithContext(ctx).Raw("SELECT name FROM pragma_database_list ORDER BY seq").Scan(&names).Error
	} else {
		err = w.db.WithContext(ctx).Raw(`SELECT schema_name FROM information_schema.schemata
			WHERE schema_name NOT IN ('pg_catalog', 'information_schema') AND schema_name NOT LIKE 'pg_toast%'
			ORDER BY schema_name`).Scan(&names).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return names, nil
}

// ListTables returns the tables of one namespace
func (w *Warehouse) ListTables(ctx context.Context, namespace string) ([]string, error) {
	var names []string
	var err error
	if w.isSQLite() {
		if !sqliteMain(namespace) {
			return nil, nil
		}
		err = w.db.WithContext(ctx).Raw(`SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`).Scan(&names).Error
	} else {
		err = w.db.WithContext(ctx).Raw(`SELECT table_name FROM information_schema.tables
			WHERE table_schema = ? AND table_type IN ('BASE TABLE', 'VIEW') ORDER BY table_name`,
			namespaceOrPublic(namespace)).Scan(&names).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", namespace, err)
	}
	return names, nil
}

type columnRow struct {
	Name     string
	Type     string
	Nullable bool
}

type sqliteColumnRow struct {
	Name    string
	Type    string
	NotNull int
}

// LoadTable reads the deployed schema of a table
func (w *Warehouse) LoadTable(ctx context.Context, loc models.Location) (checks.Table, error) {
	var columns []models.Column

	if w.isSQLite() {
		if !sqliteMain(loc.Namespace) {
			return nil, fmt.Errorf("%s: %w", loc.QualifiedName(), ErrTableNotFound)
		}
		var rows []sqliteColumnRow
		err := w.db.WithContext(ctx).Raw(`SELECT name, type, "notnull" AS not_null FROM pragma_table_info(?) ORDER BY cid`, loc.Table).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", loc.QualifiedName(), err)
		}
		for _, r := range rows {
			columns = append(columns, models.Column{Name: r.Name, Type: strings.ToLower(r.Type), Nullable: r.NotNull == 0})
		}
	} else {
		var rows []columnRow
		err := w.db.WithContext(ctx).Raw(`SELECT column_name AS name, data_type AS type, (is_nullable = 'YES') AS nullable
			FROM information_schema.columns
			WHERE table_schema = ? AND table_name = ?
			ORDER BY ordinal_position`, namespaceOrPublic(loc.Namespace), loc.Table).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", loc.QualifiedName(), err)
		}
		for _, r := range rows {
			columns = append(columns, models.Column{Name: r.Name, Type: r.Type, Nullable: r.Nullable})
		}
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%s: %w", loc.QualifiedName(), ErrTableNotFound)
	}
	return &table{warehouse: w, loc: loc, schema: columns}, nil
}

// ValidateConnection runs SELECT 1 against the warehouse and reports latency
func (w *Warehouse) ValidateConnection(ctx context.Context, contract models.Contract) (checks.ProbeResult, error) {
	start := time.Now()
	var one int
	err := w.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
	latency := time.Since(start)
	if err != nil {
		return checks.ProbeResult{Healthy: false, Latency: latency, Message: utils.SanitizeError(err)}, err
	}
	return checks.ProbeResult{Healthy: one == 1, Latency: latency}, nil
}

// table is a loaded warehouse table
type table struct {
	warehouse *Warehouse
	loc       models.Location
	schema    []models.Column
}

func (t *table) Schema() []models.Column {
	return t.schema
}

// LastUpdated returns max(freshness column)
func (t *table) LastUpdated(ctx context.Context) (time.Time, error) {
	if t.loc.FreshnessColumn == "" {
		return time.Time{}, fmt.Errorf("%s: %w", t.loc.QualifiedName(), ErrNoFreshnessColumn)
	}

	w := t.warehouse
	name := t.loc.Table
	if !w.isSQLite() {
		name = namespaceOrPublic(t.loc.Namespace) + "." + t.loc.Table
	}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", w.quote(t.loc.FreshnessColumn), w.quote(name))

	var raw interface{}
	if err := w.db.WithContext(ctx).Raw(query).Row().Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("failed to read %s.%s: %w", t.loc.QualifiedName(), t.loc.FreshnessColumn, err)
	}
	if raw == nil {
		return time.Time{}, fmt.Errorf("%s has no rows", t.loc.QualifiedName())
	}
	return parseTimestamp(raw)
}

func parseTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case []byte:
		return parseTimestampText(string(v))
	case string:
		return parseTimestampText(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp value %T", raw)
	}
}

func parseTimestampText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func sqliteMain(namespace string) bool {
	return namespace == "" || namespace == "main"
}

func namespaceOrPublic(namespace string) string {
	if namespace == "" {
		return "public"
	}
	return namespace
}
