package cli

import (
	"fmt"
	"os"

	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report <project>",
	Short: "Generate the petition readiness report",
	Long: `Report scores how well the confirmed evidence covers the eligibility
standards and lists citation coverage and unused evidence.

Example:
  petitrace report chen-eb1
  petitrace report chen-eb1 --format md -o report.md`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "output format (json, md)")
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "output path (default: stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportFormat != "json" && reportFormat != "md" {
		return fmt.Errorf("unknown format %q (json, md)", reportFormat)
	}
	return withService(func(svc *pipeline.Service) error {
		report, err := svc.Report(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("report failed: %w", err)
		}

		r := svc.Renderer()
		switch {
		case reportOut == "" && reportFormat == "md":
			err = r.WriteMarkdown(os.Stdout, report)
		case reportOut == "":
			err = r.WriteJSON(os.Stdout, report)
		case reportFormat == "md":
			err = r.RenderMarkdown(report, reportOut)
		default:
			err = r.RenderJSON(report, reportOut)
		}
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}

		if reportOut != "" {
			r.RenderSummary(os.Stderr, report)
			fmt.Fprintf(os.Stderr, "\n✓ Wrote %s\n", reportOut)
		}
		return nil
	})
}
