package cmd

import (
	"fmt"

	"github.com/harrison/plugintest/internal/pattern"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewClassifyCommand creates the classify command
func NewClassifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <fixture-dir>",
		Short: "Show how fixture files would be verified",
		Long: `Classify the files directly inside a fixture directory the same way
"plugintest run" does, without touching any test directory.

Files matching a text pattern are verified as text, files matching a binary
pattern (and no text pattern) as binary. Every other file is only staged.

Examples:
  plugintest classify ./tests/export -t '*.txt' -b '*.png'`,
		Args: cobra.ExactArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().StringArrayP("match-text", "t", nil, "Text PATTERN (repeatable)")
	cmd.Flags().StringArrayP("match-binary", "b", nil, "Binary PATTERN (repeatable)")

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	textPatterns, _ := cmd.Flags().GetStringArray("match-text")
	binaryPatterns, _ := cmd.Flags().GetStringArray("match-binary")

	cls, err := pattern.Classify(afero.NewOsFs(), args[0], [][]string{textPatterns, binaryPatterns})
	if err != nil {
		return fmt.Errorf("failed to classify %s: %w", args[0], err)
	}

	printClassification(cmd.OutOrStdout(), cls.Group(0), cls.Group(1), cls.Unmatched)
	return nil
}
