package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// typeAliases folds common spellings of the same SQL type
var typeAliases = map[string]string{
	"int":                         "integer",
	"int4":                        "integer",
	"int8":                        "bigint",
	"int2":                        "smallint",
	"bool":                        "boolean",
	"float8":                      "double",
	"double precision":            "double",
	"float4":                      "real",
	"numeric":                     "decimal",
	"character varying":           "varchar",
	"character":                   "char",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"datetime":                    "timestamp",
}

// NormalizeType lower-cases a type name, strips length/precision and folds aliases
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.Index(t, "("); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

// SchemaDriftCheck diffs the declared schema against the deployed table
type SchemaDriftCheck struct {
	catalog Catalog
}

// NewSchemaDriftCheck creates a schema drift check
func NewSchemaDriftCheck(catalog Catalog) *SchemaDriftCheck {
	return &SchemaDriftCheck{catalog: catalog}
}

// Type returns the check type
func (c *SchemaDriftCheck) Type() models.CheckType {
	return models.CheckTypeSchema
}

// Execute produces at most one finding per drift category
func (c *SchemaDriftCheck) Execute(ctx context.Context, contract models.Contract, cfg config.MonitoringConfig) (models.CheckResult, error) {
	if len(contract.Schema) == 0 {
		return skipped("no declared schema"), nil
	}

	table, err := c.catalog.LoadTable(ctx, contract.Location)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("load table %s: %w", contract.Location.QualifiedName(), err)
	}

	findings := DiffSchema(contract.Schema, table.Schema())

	result := models.CheckResult{
		Status: statusFor(len(findings) > 0),
		Details: map[string]interface{}{
			"table":            contract.Location.QualifiedName(),
			"declared_columns": len(contract.Schema),
			"actual_columns":   len(table.Schema()),
		},
		Measurement: &models.Measurement{
			Value:    float64(len(findings)), // drift categories
			Breached: len(findings) > 0,
		},
		Findings: findings,
	}
	if len(findings) > 0 {
		result.Measurement.ConsumptionPercent = 100
	}
	return result, nil
}

// DiffSchema compares declared and actual columns by case-insensitive name
func DiffSchema(declared, actual []models.Column) []models.Finding {
	actualByName := make(map[string]models.Column, len(actual))
	for _, col := range actual {
		actualByName[strings.ToLower(col.Name)] = col
	}
	declaredByName := make(map[string]models.Column, len(declared))
	for _, col := range declared {
		declaredByName[strings.ToLower(col.Name)] = col
	}

	var added, removed, typeChanged, nullChanged []string
	var typeExpected, typeActual, nullExpected, nullActual []string
	requiredRemoved := false

	for _, col := range actual {
		if _, ok := declaredByName[strings.ToLower(col.Name)]; !ok {
			added = append(added, col.Name)
		}
	}

	for _, want := range declared {
		got, ok := actualByName[strings.ToLower(want.Name)]
		if !ok {
			removed = append(removed, want.Name)
			if want.Required {
				requiredRemoved = true
			}
			continue
		}
		if NormalizeType(want.Type) != NormalizeType(got.Type) {
			typeChanged = append(typeChanged, want.Name)
			typeExpected = append(typeExpected, fmt.Sprintf("%s %s", want.Name, want.Type))
			typeActual = append(typeActual, fmt.Sprintf("%s %s", want.Name, got.Type))
		}
		if want.Nullable != got.Nullable {
			nullChanged = append(nullChanged, want.Name)
			nullExpected = append(nullExpected, fmt.Sprintf("%s %s", want.Name, nullability(want.Nullable)))
			nullActual = append(nullActual, fmt.Sprintf("%s %s", want.Name, nullability(got.Nullable)))
		}
	}

	sort.Strings(added)

	var findings []models.Finding
	if len(added) > 0 {
		findings = append(findings, models.Finding{
			ViolationType: models.ViolationColumnAdded,
			Message:       fmt.Sprintf("%d undeclared column(s) added: %s", len(added), utils.JoinLimited(added, 5)),
			Element:       strings.Join(added, ", "),
			Expected:      "absent",
			Actual:        "present",
		})
	}
	if len(removed) > 0 {
		msg := fmt.Sprintf("%d declared column(s) removed: %s", len(removed), utils.JoinLimited(removed, 5))
		if requiredRemoved {
			msg += " (required column missing)"
		}
		findings = append(findings, models.Finding{
			ViolationType: models.ViolationColumnRemoved,
			Message:       msg,
			Element:       strings.Join(removed, ", "),
			Expected:      "present",
			Actual:        "absent",
			ForceCritical: requiredRemoved,
		})
	}
	if len(typeChanged) > 0 {
		findings = append(findings, models.Finding{
			ViolationType: models.ViolationTypeChanged,
			Message:       fmt.Sprintf("%d column type(s) changed: %s", len(typeChanged), utils.JoinLimited(typeChanged, 5)),
			Element:       strings.Join(typeChanged, ", "),
			Expected:      strings.Join(typeExpected, ", "),
			Actual:        strings.Join(typeActual, ", "),
		})
	}
	if len(nullChanged) > 0 {
		findings = append(findings, models.Finding{
			ViolationType: models.ViolationNullabilityChanged,
			Message:       fmt.Sprintf("%d column nullability change(s): %s", len(nullChanged), utils.JoinLimited(nullChanged, 5)),
			Element:       strings.Join(nullChanged, ", "),
			Expected:      strings.Join(nullExpected, ", "),
			Actual:        strings.Join(nullActual, ", "),
		})
	}
	return findings
}

func nullability(nullable bool) string {
	if nullable {
		return "nullable"
	}
	return "not null"
}
