// Package channels holds the bundled alert delivery channels.
package channels

import (
	"fmt"
	"strings"

	"github.com/akmatori/contractmon/internal/models"
)

// Base gives channels no-op defaults for the optional capabilities
type Base struct{}

// ValidateConfig accepts any configuration
func (Base) ValidateConfig() error { return nil }

// Close releases nothing
func (Base) Close() error { return nil }

// FormatText renders an event as a short multi-line plain-text message
func FormatText(event models.ContractViolationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s %s violation", event.Severity.Emoji(), event.Severity.Label(), event.ContractName, event.ViolationType)
	if event.ContractVersion != "" {
		fmt.Fprintf(&b, " (v%s)", event.ContractVersion)
	}
	b.WriteString("\n")
	b.WriteString(event.Message)
	if event.Element != "" {
		fmt.Fprintf(&b, "\nElement: %s", event.Element)
	}
	if event.ExpectedValue != "" || event.ActualValue != "" {
		fmt.Fprintf(&b, "\nExpected: %s, actual: %s", event.ExpectedValue, event.ActualValue)
	}
	if len(event.AffectedConsumers) > 0 {
		fmt.Fprintf(&b, "\nAffected consumers: %s", strings.Join(event.AffectedConsumers, ", "))
	}
	return b.String()
}
