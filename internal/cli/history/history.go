// Package history implements the history commands over the artifact store.
package history

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/perfmerge/internal/cli/helpers"
	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/store"
)

// Row is one line of the history listing.
type Row struct {
	ID          string    `header:"ID" json:"id"`
	SessionID   string    `header:"SESSION" json:"session_id"`
	Kind        string    `header:"KIND" json:"kind"`
	Contexts    int       `header:"CONTEXTS" json:"contexts"`
	Samples     int       `header:"SAMPLES" json:"samples"`
	CreatedAt   time.Time `header:"CREATED" json:"created_at"`
	ContentType string    `json:"content_type"`
}

// NewHistoryCmd creates the history command group.
func NewHistoryCmd(flags *helpers.GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse previously generated artifacts",
		Long: `Browse the artifacts recorded by 'perfmerge generate'.

Examples:
  perfmerge history list
  perfmerge history list --kind flamechart --format json
  perfmerge history show <artifact-id> -o run.speedscope.json`,
	}

	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newShowCmd(flags))

	return cmd
}

func newListCmd(flags *helpers.GlobalFlags) *cobra.Command {
	var (
		kind   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.ListFormats); err != nil {
				return err
			}
			return List(cmd.Context(), *flags, kind, limit, helpers.OutputFormat(format), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only list artifacts of this kind (calltree, flamechart, pprof, folded)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of artifacts")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.ListFormats)

	return cmd
}

func newShowCmd(flags *helpers.GlobalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <artifact-id>",
		Short: "Write a recorded artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Show(cmd.Context(), *flags, args[0], output, cmd.OutOrStdout())
		},
	}

	helpers.AddOutputFlag(cmd, &output)

	return cmd
}

// withStore opens the store for the duration of fn.
func withStore(flags helpers.GlobalFlags, fn func(st *store.Store, env *helpers.Env) error) error {
	env, err := helpers.LoadEnv(flags)
	if err != nil {
		return err
	}
	st, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	defer safe.Close(st, env.Logger, "Failed to close artifact store")
	return fn(st, env)
}

// List writes the recorded artifacts in the given format.
func List(ctx context.Context, flags helpers.GlobalFlags, kind string, limit int, format helpers.OutputFormat, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}

	return withStore(flags, func(st *store.Store, env *helpers.Env) error {
		artifacts, err := st.List(ctx, kind, limit)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 && format == helpers.FormatTable {
			_, err := fmt.Fprintln(w, "No artifacts recorded")
			return err
		}

		rows := make([]Row, 0, len(artifacts))
		for _, a := range artifacts {
			rows = append(rows, Row{
				ID:          a.ID,
				SessionID:   a.SessionID,
				Kind:        a.Kind,
				Contexts:    a.Contexts,
				Samples:     a.Samples,
				CreatedAt:   a.CreatedAt,
				ContentType: a.ContentType,
			})
		}
		return formatter.Format(rows, w)
	})
}

// Show writes the payload of one artifact to output, or w when output is
// empty.
func Show(ctx context.Context, flags helpers.GlobalFlags, id, output string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return withStore(flags, func(st *store.Store, env *helpers.Env) error {
		a, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		env.Logger.Debug().
			Str("artifact_id", a.ID).
			Str("kind", a.Kind).
			Str("content_type", a.ContentType).
			Msg("Writing recorded artifact")
		return helpers.WriteOutput(w, output, a.Payload)
	})
}
