package storage

import (
	"context"
	"fmt"
	"strings"
)

// RecentSummary renders the last notifications as an operator-facing text
// block (German, like the manual check summary). A nil store means history
// is disabled.
func RecentSummary(ctx context.Context, s Store, limit int) string {
	if s == nil {
		return "Kein Benachrichtigungs-Verlauf konfiguriert."
	}
	recs, err := s.RecentSends(ctx, limit)
	if err != nil {
		return "Verlauf konnte nicht gelesen werden. Prüfe die Logs für Details."
	}
	if len(recs) == 0 {
		return "Noch keine Benachrichtigungen aufgezeichnet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Letzte Benachrichtigungen (%d):\n", len(recs))
	for _, r := range recs {
		status := "OK"
		if !r.OK {
			status = "FEHLER"
		}
		fmt.Fprintf(&b, "- %s [%s] %s", r.At.UTC().Format("2006-01-02 15:04"), status, r.Title)
		if r.Position != "" {
			fmt.Fprintf(&b, " (%s)", r.Position)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
