package audit

import (
	"bytes"
	"strings"
	"time"

	"github.com/roach88/attend/internal/canonical"
)

// CSVHeader is the fixed header row of an export.
var CSVHeader = []string{"Timestamp", "Actor", "Action", "Module", "Severity", "Subject", "Details"}

// CSVTimeLayout renders timestamps with millisecond precision in UTC.
const CSVTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ExportCSV renders entries in the order given, one row each, after the
// header. Every field is double-quoted with embedded quotes doubled and rows
// end in "\n", so the output is byte-stable for the same input and parses
// back with encoding/csv.
//
// Details are written as canonical JSON (sorted keys, no HTML escaping), and
// canonical JSON NFC-normalises every string in them. A details value
// recorded in another normal form, such as "cafe\u0301", exports as its
// composed equivalent "caf\u00e9"; the JSON parses back to equal text but
// not to the same bytes. The other columns are written exactly as recorded.
func ExportCSV(entries []Entry) []byte {
	var buf bytes.Buffer
	writeRow(&buf, CSVHeader)
	for _, e := range entries {
		writeRow(&buf, []string{
			e.Timestamp.UTC().Format(CSVTimeLayout),
			e.ActorName,
			e.Action,
			string(e.Module),
			string(e.Severity),
			subjectLabel(e),
			detailsText(e.Details),
		})
	}
	return buf.Bytes()
}

// ExportFilename follows audit_logs_{yyyy-MM-dd_HH-mm}.csv.
func ExportFilename(t time.Time) string {
	return "audit_logs_" + t.Format("2006-01-02_15-04") + ".csv"
}

func subjectLabel(e Entry) string {
	if e.SubjectName != "" {
		return e.SubjectName
	}
	return e.SubjectID
}

func detailsText(d map[string]any) string {
	if len(d) == 0 {
		return ""
	}
	return canonical.MustString(d)
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}
