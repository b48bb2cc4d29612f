package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/app"
	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
)

// AuditFilterFlags select audit entries.
type AuditFilterFlags struct {
	Text     string
	Module   string
	Severity string
	Subject  string
	From     string
	To       string
	Limit    int
}

func (a *AuditFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&a.Text, "query", "q", "", "case-insensitive text in action, actor or subject name")
	cmd.Flags().StringVar(&a.Module, "module", "", "only entries from this module")
	cmd.Flags().StringVar(&a.Severity, "severity", "", "only entries with this severity (info|success|warning|error)")
	cmd.Flags().StringVar(&a.Subject, "subject", "", "only entries about this subject id")
	cmd.Flags().StringVar(&a.From, "from", "", "earliest timestamp, RFC 3339, inclusive")
	cmd.Flags().StringVar(&a.To, "to", "", "latest timestamp, RFC 3339, inclusive")
	cmd.Flags().IntVar(&a.Limit, "limit", 0, "maximum number of entries (0 means all)")
}

func (a *AuditFilterFlags) filter() (audit.Filter, error) {
	f := audit.Filter{Text: a.Text, SubjectID: a.Subject}
	if a.Module != "" {
		m, err := attendance.ParseModule(a.Module)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --module", err)
		}
		f.Module = m
	}
	if a.Severity != "" {
		sev, err := audit.ParseSeverity(a.Severity)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --severity", err)
		}
		f.Severity = sev
	}
	for name, pair := range map[string]struct {
		raw string
		dst *time.Time
	}{"from": {a.From, &f.From}, "to": {a.To, &f.To}} {
		if pair.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, pair.raw)
		if err != nil {
			return f, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
		}
		*pair.dst = t
	}
	if a.Limit < 0 {
		return f, NewExitError(ExitCommandError, "invalid --limit: must not be negative")
	}
	f.Limit = a.Limit
	return f, nil
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and export the audit log",
	}
	cmd.AddCommand(newAuditQueryCommand(rootOpts))
	cmd.AddCommand(newAuditExportCommand(rootOpts))
	return cmd
}

type entriesView []audit.Entry

func (v entriesView) renderText(w io.Writer) {
	if len(v) == 0 {
		fmt.Fprintln(w, "No matching audit entries.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSEVERITY\tMODULE\tACTOR\tSUBJECT\tACTION")
	for _, e := range v {
		subject := e.SubjectName
		if subject == "" {
			subject = e.SubjectID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Severity, e.Module, e.ActorName, subject, e.Action)
	}
	tw.Flush()
}

func newAuditQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var flags AuditFilterFlags

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit entries, newest first",
		Long: `List retained audit entries, newest first.

Filters combine; an unset filter matches everything.

Examples:
  attend audit query --module vaccination --severity success
  attend audit query -q silva --from 2026-01-15T00:00:00Z --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				return f.Success(entriesView(a.Audit.Query(filter)))
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// ExportResult reports where an export was written.
type ExportResult struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
}

func (r ExportResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Exported %d audit entries to %s\n", r.Entries, r.Path)
}

func newAuditExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags AuditFilterFlags
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write matching audit entries as CSV",
		Long: `Write matching audit entries as CSV, newest first.

Without --out the file is named audit_logs_<yyyy-MM-dd_HH-mm>.csv in the
current directory. Use --out - to write the CSV to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				entries := a.Audit.Query(filter)
				data := audit.ExportCSV(entries)

				if out == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				path := out
				if path == "" {
					path = audit.ExportFilename(time.Now())
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return WrapExitError(ExitCommandError, "failed to write export", err)
				}
				return f.Success(ExportResult{Path: path, Entries: len(entries)})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout)`)
	return cmd
}
