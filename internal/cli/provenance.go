package cli

import (
	"fmt"
	"strconv"

	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/spf13/cobra"
)

var provenanceMethod string

var provenanceCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Trace letter sentences to exhibit evidence",
}

var provenanceSentenceCmd = &cobra.Command{
	Use:   "sentence <project> <section-id> <index>",
	Short: "Show the evidence behind one sentence",
	Long: `Sentence resolves the snippets behind a letter sentence. Explicit
citations are exact; semantic matches are ranked by text similarity.

Example:
  petitrace provenance sentence chen-eb1 awards 0 --method hybrid`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("sentence index %q: %w", args[2], err)
		}
		return withService(func(svc *pipeline.Service) error {
			res, err := svc.SentenceProvenance(cmd.Context(), args[0], args[1], index, provenanceMethod)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var provenanceReverseCmd = &cobra.Command{
	Use:   "reverse <project> <snippet-id>",
	Short: "List the sentences that cite a snippet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			res, err := svc.ReverseProvenance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var provenanceSummaryCmd = &cobra.Command{
	Use:   "summary <project> [section-id]",
	Short: "Report citation coverage",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sectionID := ""
		if len(args) == 2 {
			sectionID = args[1]
		}
		return withService(func(svc *pipeline.Service) error {
			summary, err := svc.ProvenanceSummary(cmd.Context(), args[0], sectionID)
			if err != nil {
				return err
			}
			return printJSON(summary)
		})
	},
}

func init() {
	rootCmd.AddCommand(provenanceCmd)
	provenanceCmd.AddCommand(provenanceSentenceCmd, provenanceReverseCmd, provenanceSummaryCmd)

	provenanceSentenceCmd.Flags().StringVar(&provenanceMethod, "method", "hybrid", "resolution method (explicit, semantic, hybrid)")
}
