package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds a standard --format/-f flag to a command, with shell
// completion over the supported values.
func AddFormatFlag[F ~string](cmd *cobra.Command, formatVar *string, defaultFormat F, supported []F) {
	names := formatNames(supported)

	description := fmt.Sprintf("Output format (%s)", strings.Join(names, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "f", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// AddOutputFlag adds a standard --output/-o flag naming the destination file.
// An empty value or "-" means stdout.
func AddOutputFlag(cmd *cobra.Command, outputVar *string) {
	cmd.Flags().StringVarP(outputVar, "output", "o", "", "Output file (default: stdout)")
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat[F ~string](format string, supported []F) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(supported), ", "))
}

func formatNames[F ~string](formats []F) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}
