package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/app"
	"github.com/roach88/attend/internal/draft"
)

// NewDraftCommand creates the draft command group.
func NewDraftCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Save, load and clear form drafts",
	}
	cmd.AddCommand(newDraftSaveCommand(rootOpts))
	cmd.AddCommand(newDraftLoadCommand(rootOpts))
	cmd.AddCommand(newDraftClearCommand(rootOpts))
	cmd.AddCommand(newDraftListCommand(rootOpts))
	return cmd
}

type ackView struct {
	draft.Ack
	slot string
}

func (v ackView) renderText(w io.Writer) {
	if !v.Saved {
		fmt.Fprintf(w, "Nothing worth saving; draft %s left as it was\n", v.slot)
		return
	}
	fmt.Fprintf(w, "Saved draft %s at %s\n", v.slot, v.SavedAt.Format(draft.SavedAtLayout))
}

func newDraftSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "save <slot>",
		Short: "Save form data to a draft slot",
		Long: `Save form data to a draft slot, replacing what was there.

The data is a JSON object given with --data, or read from stdin when
--data is "-". Payloads with nothing meaningful in them are not saved.

Example:
  attend draft save triage --data '{"complaint":"headache","temperature":38.2}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(data)
			if data == "-" {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return WrapExitError(ExitCommandError, "failed to read stdin", err)
				}
			}
			var payload draft.Payload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return WrapExitError(ExitCommandError, "invalid --data: expected a JSON object", err)
			}

			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				ack, err := a.Drafts.Save(ctx, args[0], payload)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(ackView{Ack: ack, slot: args[0]})
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", `form data as a JSON object ("-" reads stdin)`)
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

type draftView struct {
	draft.Draft
}

func (v draftView) renderText(w io.Writer) {
	fmt.Fprintf(w, "Slot:     %s\n", v.Slot)
	fmt.Fprintf(w, "Saved at: %s\n", v.SavedAt.Format(time.RFC3339))
	body, err := json.MarshalIndent(v.Payload, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "Payload:  %v\n", v.Payload)
		return
	}
	fmt.Fprintf(w, "Payload:\n%s\n", body)
}

func newDraftLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <slot>",
		Short: "Show the draft saved in a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				d, err := a.Drafts.Load(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(draftView{d})
			})
		},
	}
}

func newDraftClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <slot>",
		Short: "Discard the draft in a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if err := a.Drafts.Clear(ctx, args[0]); err != nil {
					return f.Fail(err)
				}
				if f.Format == "json" {
					return f.Success(map[string]string{"cleared": args[0]})
				}
				return f.Success(fmt.Sprintf("Cleared draft %s", args[0]))
			})
		},
	}
}

type slotsView []string

func (v slotsView) renderText(w io.Writer) {
	if len(v) == 0 {
		fmt.Fprintln(w, "No drafts saved.")
		return
	}
	for _, s := range v {
		fmt.Fprintln(w, s)
	}
}

func newDraftListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List slots holding a draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				slots, err := a.Drafts.Slots(ctx)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(slotsView(slots))
			})
		},
	}
}
