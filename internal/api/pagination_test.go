package api

import (
	"net/url"
	"testing"
	"time"

	"github.com/akmatori/contractmon/internal/models"
)

func TestParsePage(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantPage Page
	}{
		{"defaults", "", Page{Number: 1, Size: DefaultPageSize}},
		{"explicit", "page=3&per_page=25", Page{Number: 3, Size: 25}},
		{"capped", "per_page=1000", Page{Number: 1, Size: MaxPageSize}},
		{"zero", "page=0&per_page=0", Page{Number: 1, Size: DefaultPageSize}},
		{"negative", "page=-2&per_page=-5", Page{Number: 1, Size: DefaultPageSize}},
		{"not numbers", "page=last&per_page=all", Page{Number: 1, Size: DefaultPageSize}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			if got := ParsePage(q); got != tt.wantPage {
				t.Errorf("ParsePage(%q) = %+v, want %+v", tt.query, got, tt.wantPage)
			}
		})
	}
}

func TestPage_Meta(t *testing.T) {
	tests := []struct {
		page       Page
		total      int64
		wantOffset int
		wantPages  int
	}{
		{Page{Number: 1, Size: 50}, 0, 0, 0},
		{Page{Number: 1, Size: 50}, 50, 0, 1},
		{Page{Number: 2, Size: 50}, 51, 50, 2},
		{Page{Number: 4, Size: 10}, 95, 30, 10},
	}

	for _, tt := range tests {
		if got := tt.page.Offset(); got != tt.wantOffset {
			t.Errorf("%+v Offset() = %d, want %d", tt.page, got, tt.wantOffset)
		}
		meta := tt.page.Meta(tt.total)
		if meta.TotalPages != tt.wantPages || meta.Total != tt.total || meta.Page != tt.page.Number || meta.PerPage != tt.page.Size {
			t.Errorf("%+v Meta(%d) = %+v, want %d pages", tt.page, tt.total, meta, tt.wantPages)
		}
	}
}

func TestParseViolationQuery_Filter(t *testing.T) {
	q, _ := url.ParseQuery("contract=orders&type=Schema_Drift&min_severity=ERROR" +
		"&since=2026-03-01T00:00:00Z&until=2026-03-02T02:00:00%2B02:00&page=2&per_page=10")

	query := ParseViolationQuery(q)
	if errs := Validate(query); errs != nil {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	filter, err := query.Filter()
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if filter.ContractName != "orders" || filter.ViolationType != models.ViolationSchemaDrift {
		t.Errorf("unexpected contract/type %q/%q", filter.ContractName, filter.ViolationType)
	}
	if filter.MinSeverity != models.SeverityError {
		t.Errorf("min severity = %q, want error", filter.MinSeverity)
	}
	if !filter.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", filter.Since)
	}
	if !filter.Until.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("until = %v", filter.Until)
	}
	if filter.Limit != 10 || filter.Offset != 10 {
		t.Errorf("limit/offset = %d/%d, want 10/10", filter.Limit, filter.Offset)
	}
}

func TestParseViolationQuery_NoFilters(t *testing.T) {
	query := ParseViolationQuery(url.Values{})
	filter, err := query.Filter()
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if filter.MinSeverity != "" || filter.ViolationType != "" || !filter.Since.IsZero() || !filter.Until.IsZero() {
		t.Errorf("expected an open filter, got %+v", filter)
	}
	if filter.Limit != DefaultPageSize || filter.Offset != 0 {
		t.Errorf("limit/offset = %d/%d", filter.Limit, filter.Offset)
	}
}

func TestViolationQuery_FilterRejectsUnvalidatedInput(t *testing.T) {
	if _, err := (ViolationQuery{MinSeverity: "urgent"}).Filter(); err == nil {
		t.Error("expected error for unknown severity")
	}
	if _, err := (ViolationQuery{Until: "yesterday"}).Filter(); err == nil {
		t.Error("expected error for bad timestamp")
	}
}
