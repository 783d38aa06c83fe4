package diagnosis

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/carsync-api/internal/domain"
)

// Narrator writes the free-text report of a diagnosis.
type Narrator interface {
	Narrate(ctx context.Context, findings domain.Findings) (string, error)
}

// TemplateNarrator writes a fixed-format report without calling out.
type TemplateNarrator struct{}

var _ Narrator = TemplateNarrator{}

// Narrate implements Narrator.Narrate. It never fails.
func (TemplateNarrator) Narrate(_ context.Context, f domain.Findings) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis for vehicle %s (%s check): overall risk %s.", f.VehicleID,
		strings.ToLower(string(f.TriggerKind)), f.RiskLevel)

	for _, s := range f.Summaries {
		if s = strings.TrimSpace(s); s != "" {
			fmt.Fprintf(&b, " %s", s)
		}
	}

	if len(f.Issues) == 0 {
		b.WriteString("\nNo issues were detected.")
	} else {
		b.WriteString("\nDetected issues:")
		for _, issue := range f.Issues {
			b.WriteString("\n- ")
			if issue.Code != "" {
				b.WriteString(issue.Code + ": ")
			}
			fmt.Fprintf(&b, "%s [%s]", issue.Description, issue.Severity)
		}
	}

	if len(f.Actions) > 0 {
		b.WriteString("\nRecommended actions:")
		for _, a := range f.Actions {
			b.WriteString("\n- " + a.Title)
			if a.Detail != "" {
				b.WriteString(": " + a.Detail)
			}
		}
	}
	return b.String(), nil
}
