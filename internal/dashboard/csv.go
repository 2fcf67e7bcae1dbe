package dashboard

import (
	"fmt"
	"io"
	"strings"
	"time"

	"govportal/internal/domain"
)

// ExportFilename names the download for an export taken at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("audit_logs_%s.csv", t.Format("2006-01-02"))
}

// WriteAuditCSV writes a header line of column names followed by one line
// per entry. Every field is wrapped in double quotes with embedded quotes
// doubled; lines are separated by "\n" with no trailing newline.
//
// encoding/csv only quotes fields that need it, so the lines are built here.
func WriteAuditCSV(w io.Writer, entries []domain.AuditEntry) error {
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, strings.Join(domain.AuditColumns, ","))
	for _, e := range entries {
		fields := e.Fields()
		quoted := make([]string, len(fields))
		for i, f := range fields {
			quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
		lines = append(lines, strings.Join(quoted, ","))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("write audit csv: %w", err)
	}
	return nil
}
