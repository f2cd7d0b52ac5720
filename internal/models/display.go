package models

// Emoji returns a marker for chat channels
func (s Severity) Emoji() string {
	switch s {
	case SeverityCritical:
		return "🔴"
	case SeverityError:
		return "🟠"
	case SeverityWarning:
		return "🟡"
	case SeverityInfo:
		return "⚪"
	default:
		return "⚫"
	}
}

// Label returns a human-readable severity label
func (s Severity) Label() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return "Unknown"
	}
}
