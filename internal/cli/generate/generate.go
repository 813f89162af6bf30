// Package generate implements the generate command: replay a capture bundle
// through a profiling session and write one artifact.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/perfmerge/internal/bundle"
	"github.com/coral-mesh/perfmerge/internal/cli/helpers"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/session"
)

// Format is an artifact format.
type Format string

// Artifact formats.
const (
	FormatCallTree   Format = "calltree"
	FormatFlameChart Format = "flamechart"
	FormatPprof      Format = "pprof"
	FormatFolded     Format = "folded"
)

// Formats lists the supported artifact formats.
var Formats = []Format{FormatCallTree, FormatFlameChart, FormatPprof, FormatFolded}

// ErrNothingToProfile is returned when no context in the bundle produced
// telemetry.
var ErrNothingToProfile = errors.New("nothing to profile: no context produced telemetry")

// Options are the generate command's flags.
type Options struct {
	Input   string
	Format  string
	Output  string
	Name    string
	NoStore bool
}

// NewGenerateCmd creates the generate command.
func NewGenerateCmd(flags *helpers.GlobalFlags) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a profile artifact from a capture bundle",
		Long: `Replay a capture bundle through a profiling session and write one artifact.

A bundle is a JSON or YAML file holding the instrumentation records of each
execution context, plus an optional sampled trace (inline or as a pprof CPU
profile) for the main context.

Formats:
  calltree    DevTools .cpuprofile JSON merging every context
  flamechart  speedscope JSON with one track per context
  pprof       gzip-compressed pprof protobuf
  folded      folded stacks (flamegraph.pl input)

Examples:
  # Flame chart for speedscope
  perfmerge generate --input capture.json --format flamechart -o run.speedscope.json

  # Flame graph SVG (requires flamegraph.pl)
  perfmerge generate --input capture.yaml --format folded | flamegraph.pl > run.svg

  # Inspect with go tool pprof
  perfmerge generate --input capture.json --format pprof -o run.pb.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(opts.Format, Formats); err != nil {
				return err
			}
			return Run(cmd.Context(), *flags, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Capture bundle (.json, .yaml or .yml)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Profile name (default: bundle or config name)")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Do not record the artifact in the history database")
	helpers.AddFormatFlag(cmd, &opts.Format, FormatFlameChart, Formats)
	helpers.AddOutputFlag(cmd, &opts.Output)

	cmd.MarkFlagRequired("input") //nolint:errcheck

	return cmd
}

// Run executes the generate command.
func Run(ctx context.Context, flags helpers.GlobalFlags, opts Options, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := helpers.LoadEnv(flags)
	if err != nil {
		return err
	}
	logger := logging.WithComponent(env.Logger, "generate")

	b, err := bundle.Load(opts.Input)
	if err != nil {
		return err
	}
	if b.MainContextID == "" {
		b.MainContextID = env.Config.Session.MainContextID
	}

	replay, err := bundle.NewReplay(b)
	if err != nil {
		return fmt.Errorf("failed to prepare replay: %w", err)
	}

	markers := env.Config.MarkerRegistry()
	b.ApplyMarkers(markers)

	sessOpts := replay.Options()
	if env.Config.Store.Enabled && !opts.NoStore {
		st, err := env.OpenStore()
		if err != nil {
			// History is best effort; the artifact is still produced.
			logger.Warn().Err(err).Msg("Failed to open artifact store, history disabled")
		} else {
			defer safe.Close(st, logger, "Failed to close artifact store")
			sessOpts = append(sessOpts, session.WithStore(st))
		}
	}

	name := opts.Name
	if name == "" {
		name = b.Name
	}
	sess := session.New(env.SessionConfig(name, b.MainID()), markers, env.Logger, sessOpts...)

	if err := replay.Run(ctx, sess); err != nil {
		return err
	}

	logger.Debug().
		Str("input", opts.Input).
		Int("contexts", len(b.Contexts)).
		Int("records", b.RecordCount()).
		Str("format", opts.Format).
		Msg("Bundle replayed")

	data, ok, err := render(ctx, sess, Format(opts.Format))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNothingToProfile
	}
	return helpers.WriteOutput(stdout, opts.Output, data)
}

// render generates the artifact and encodes it. ok is false when the session
// had nothing to profile.
func render(ctx context.Context, sess *session.Session, format Format) (data []byte, ok bool, err error) {
	switch format {
	case FormatCallTree:
		tree, err := sess.GenerateCallTree(ctx)
		if err != nil || tree == nil {
			return nil, false, err
		}
		data, err = json.Marshal(tree)
		return data, true, err

	case FormatFlameChart:
		file, err := sess.GenerateFlameChart(ctx)
		if err != nil || file == nil {
			return nil, false, err
		}
		data, err = json.Marshal(file)
		return data, true, err

	case FormatPprof:
		p, err := sess.GeneratePprof(ctx)
		if err != nil || p == nil {
			return nil, false, err
		}
		var buf bytes.Buffer
		if err := p.Write(&buf); err != nil {
			return nil, false, fmt.Errorf("failed to encode pprof profile: %w", err)
		}
		return buf.Bytes(), true, nil

	case FormatFolded:
		lines, err := sess.GenerateFolded(ctx)
		if err != nil || lines == nil {
			return nil, false, err
		}
		var buf bytes.Buffer
		for _, l := range lines {
			buf.WriteString(l.String())
			buf.WriteByte('\n')
		}
		return buf.Bytes(), true, nil

	default:
		return nil, false, fmt.Errorf("unsupported format %q", format)
	}
}
