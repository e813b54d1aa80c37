package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/report"
	"github.com/docpilot/docpilot/internal/schema"
)

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and validate schema declarations",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a declaration (default: the built-in DocPilot schema)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var src []byte
		if schemaFile == "" {
			src = schema.DefaultYAML()
		} else {
			var err error
			if src, err = os.ReadFile(schemaFile); err != nil {
				return fmt.Errorf("reading declaration: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			fmt.Fprint(out, report.HighlightYAML(string(src)))
		} else {
			out.Write(src)
		}
		return nil
	},
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a declaration file and list warnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		decl, err := schema.LoadYAML(schemaFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprint(out, decl.Summary())
		warnings := decl.Warnings()
		if len(warnings) > 0 {
			fmt.Fprintf(out, "\n%d warning(s):\n", len(warnings))
			for _, w := range warnings {
				fmt.Fprintf(out, "  - %s\n", w)
			}
		}
		fmt.Fprintln(out, "\nDeclaration is valid.")
		return nil
	},
}

var schemaExportOutput string

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the normalized declaration, with aliases resolved",
	Long: `Export loads a declaration (default: the built-in DocPilot schema),
resolves kind aliases and delete-behavior spellings, and writes the result
to stdout or to the file given with --output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		decl, err := schema.LoadYAML(schemaFile)
		if err != nil {
			return err
		}

		if schemaExportOutput != "" {
			if err := decl.WriteYAML(schemaExportOutput); err != nil {
				return fmt.Errorf("writing declaration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Declaration written to %s\n", schemaExportOutput)
			return nil
		}

		data, err := decl.ToYAML()
		if err != nil {
			return fmt.Errorf("marshaling declaration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	schemaCmd.PersistentFlags().StringVarP(&schemaFile, "file", "f", "", "declaration file")
	schemaExportCmd.Flags().StringVarP(&schemaExportOutput, "output", "o", "", "output file (default: stdout)")
	schemaCmd.AddCommand(schemaShowCmd, schemaValidateCmd, schemaExportCmd)
	rootCmd.AddCommand(schemaCmd)
}
