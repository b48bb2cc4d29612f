package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/app"
	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/engine"
)

// ActorFlags identify who performs a state-changing command.
type ActorFlags struct {
	ID    string
	Name  string
	Roles []string
}

func (a *ActorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.ID, "actor-id", "", "id of the acting user (required)")
	cmd.Flags().StringVar(&a.Name, "actor-name", "", "display name of the acting user (required)")
	cmd.Flags().StringSliceVar(&a.Roles, "roles", nil, "roles of the acting user, comma separated")
}

func (a *ActorFlags) actor() attendance.Actor {
	return attendance.Actor{ID: a.ID, Name: a.Name, Roles: a.Roles}
}

// AdmitOptions holds flags for the admit command.
type AdmitOptions struct {
	*RootOptions
	Actor ActorFlags
	Name  string
	Seed  string
}

// NewAdmitCommand creates the admit command.
func NewAdmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admit <subject-id>",
		Short: "Create an attendance record",
		Long: `Create the attendance record for a patient.

The record starts in waiting unless --seed names another non-terminal
status. Admitting the same patient twice fails with ALREADY_ADMITTED.

Examples:
  attend admit p1 --name "Joao Silva" --actor-id u1 --actor-name "Ana Souza"
  attend admit p2 --seed pre-service --actor-id u1 --actor-name "Ana Souza" --roles nurse`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmit(opts, args[0], cmd)
		},
	}

	opts.Actor.register(cmd)
	cmd.Flags().StringVar(&opts.Name, "name", "", "patient display name")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "initial status (default waiting)")

	return cmd
}

func runAdmit(opts *AdmitOptions, subjectID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
		rec, err := a.Engine.Admit(ctx, engine.AdmitRequest{
			SubjectID:   subjectID,
			SubjectName: opts.Name,
			Seed:        attendance.Status(opts.Seed),
			Actor:       opts.Actor.actor(),
		})
		if err != nil {
			return f.Fail(err)
		}
		return f.Success(recordView{Record: rec, verb: "Admitted"})
	})
}

// TransitionOptions holds flags for the transition command.
type TransitionOptions struct {
	*RootOptions
	Actor  ActorFlags
	Name   string
	Reason string
	Module string
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transition <subject-id> <status>",
		Short: "Move a patient to a new status",
		Long: `Move a patient to a new attendance status.

The move is checked against the transition table and the permission
rules; a rejected move leaves the record untouched and exits 1.

Statuses: waiting, initial-listening, in-service, pre-service,
vaccination, completed, cancelled, did-not-wait.

Examples:
  attend transition p1 in-service --actor-id u1 --actor-name "Ana Souza"
  attend transition p1 cancelled --reason "left before triage" --actor-id u1 --actor-name "Ana Souza"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(opts, args[0], args[1], cmd)
		},
	}

	opts.Actor.register(cmd)
	cmd.Flags().StringVar(&opts.Name, "name", "", "patient display name for the audit log")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the status changed")
	cmd.Flags().StringVar(&opts.Module, "module", "", "module recorded in the audit log (default inferred from status)")

	return cmd
}

func runTransition(opts *TransitionOptions, subjectID, to string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
		rec, err := a.Engine.Transition(ctx, engine.TransitionRequest{
			SubjectID:   subjectID,
			SubjectName: opts.Name,
			To:          attendance.Status(to),
			Actor:       opts.Actor.actor(),
			Reason:      opts.Reason,
			Module:      attendance.Module(opts.Module),
		})
		if err != nil {
			return f.Fail(err)
		}
		return f.Success(recordView{Record: rec, verb: "Moved"})
	})
}

// recordView is the output of admit and transition.
type recordView struct {
	attendance.Record
	verb string
}

func (v recordView) renderText(w io.Writer) {
	if n := len(v.Transitions); n > 0 {
		t := v.Transitions[n-1]
		fmt.Fprintf(w, "%s %s: %s -> %s\n", v.verb, v.SubjectID, t.From, t.To)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", v.verb, v.SubjectID, v.CurrentStatus)
}

// StatusView is the output of the status command.
type StatusView struct {
	SubjectID                string              `json:"subjectId"`
	CurrentStatus            attendance.Status   `json:"currentStatus"`
	AllowedNext              []attendance.Status `json:"allowedNext"`
	CanEnterInitialListening bool                `json:"canEnterInitialListening"`
	CanStartAttendance       bool                `json:"canStartAttendance"`
	Transitions              int                 `json:"transitions"`
}

func (v StatusView) renderText(w io.Writer) {
	next := make([]string, len(v.AllowedNext))
	for i, s := range v.AllowedNext {
		next[i] = string(s)
	}
	allowed := strings.Join(next, ", ")
	if allowed == "" {
		allowed = "(none, status is terminal)"
	}
	fmt.Fprintf(w, "Subject:              %s\n", v.SubjectID)
	fmt.Fprintf(w, "Status:               %s\n", v.CurrentStatus)
	fmt.Fprintf(w, "Allowed next:         %s\n", allowed)
	fmt.Fprintf(w, "Initial listening:    %s\n", yesNo(v.CanEnterInitialListening))
	fmt.Fprintf(w, "Can start attendance: %s\n", yesNo(v.CanStartAttendance))
	fmt.Fprintf(w, "Transitions:          %d\n", v.Transitions)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <subject-id>",
		Short: "Show a patient's status and where it can go next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				rec, err := a.Engine.Record(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(StatusView{
					SubjectID:                rec.SubjectID,
					CurrentStatus:            rec.CurrentStatus,
					AllowedNext:              rec.AllowedNextStatuses(),
					CanEnterInitialListening: attendance.CanEnterInitialListening(rec.CurrentStatus),
					CanStartAttendance:       attendance.CanStartAttendance(rec.CurrentStatus),
					Transitions:              len(rec.Transitions),
				})
			})
		},
	}
}

// historyView is the output of the history command.
type historyView []attendance.Transition

func (h historyView) renderText(w io.Writer) {
	if len(h) == 0 {
		fmt.Fprintln(w, "No transitions yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFROM\tTO\tACTOR\tREASON")
	for _, t := range h {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Timestamp.Format(time.RFC3339), t.From, t.To, t.ActorName, t.Reason)
	}
	tw.Flush()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <subject-id>",
		Short: "List a patient's transitions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				history, err := a.Engine.History(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(historyView(history))
			})
		},
	}
}

// SubjectSummary is one line of the subjects command.
type SubjectSummary struct {
	SubjectID     string            `json:"subjectId"`
	CurrentStatus attendance.Status `json:"currentStatus"`
}

type subjectsView []SubjectSummary

func (s subjectsView) renderText(w io.Writer) {
	if len(s) == 0 {
		fmt.Fprintln(w, "No subjects admitted.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tSTATUS")
	for _, sub := range s {
		fmt.Fprintf(tw, "%s\t%s\n", sub.SubjectID, sub.CurrentStatus)
	}
	tw.Flush()
}

// NewSubjectsCommand creates the subjects command.
func NewSubjectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subjects",
		Short: "List admitted patients and their statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				ids, err := a.Engine.Subjects(ctx)
				if err != nil {
					return f.Fail(err)
				}
				out := make(subjectsView, 0, len(ids))
				for _, id := range ids {
					status, err := a.Engine.CurrentStatus(ctx, id)
					if err != nil {
						return f.Fail(err)
					}
					out = append(out, SubjectSummary{SubjectID: id, CurrentStatus: status})
				}
				return f.Success(out)
			})
		},
	}
}
