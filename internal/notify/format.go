package notify

import (
	"fmt"
	"strings"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

// render builds the human-readable title and body for a message.
func render(msg critical.Message) (string, string) {
	ev := msg.Event
	if ev == nil {
		return "Critical value", fmt.Sprintf("Critical value notification %s", msg.Notification.ID)
	}
	title := fmt.Sprintf("Critical value (%s): %s", ev.Severity, strings.ReplaceAll(string(ev.ValueType), "_", " "))

	var b strings.Builder
	b.WriteString(strings.TrimSpace(ev.Description))
	fmt.Fprintf(&b, "\nStudy: %s", ev.StudyID)
	if ev.PatientID != "" {
		fmt.Fprintf(&b, "\nPatient: %s", ev.PatientID)
	}
	if ctx := strings.TrimSpace(ev.ClinicalContext); ctx != "" {
		fmt.Fprintf(&b, "\nContext: %s", ctx)
	}
	fmt.Fprintf(&b, "\nDetected %s by %s", ev.DetectedAt.UTC().Format("2006-01-02 15:04 MST"), ev.DetectedBy)
	fmt.Fprintf(&b, "\nAcknowledge event %s", ev.ID)
	return title, b.String()
}

func ntfyPriority(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "urgent"
	case models.SeverityHigh:
		return "high"
	case models.SeverityLow:
		return "low"
	default:
		return ""
	}
}
