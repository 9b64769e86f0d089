package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	extractForce     bool
	extractApplicant string
	manualReason     string
)

var extractCmd = &cobra.Command{
	Use:   "extract <project> <document...>",
	Short: "Extract snippets and entities from OCR'd exhibits",
	Long: `Extract loads each document from the OCR source, registers its text
blocks as snippets and asks the LLM for entities, subjects and evidence
types. Documents already extracted are skipped unless --force is set.

Example:
  petitrace extract chen-eb1 exhibit1 exhibit2 --applicant "Dr. Wei Chen"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Extract(cmd.Context(), args[0], pipeline.ExtractRequest{
		DocumentIDs: args[1:],
		Force:       extractForce,
		Applicant:   extractApplicant,
	})
	if err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ %d snippets, %d entities", len(res.Snippets), len(res.Entities))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, ", skipped %s", strings.Join(res.Skipped, ", "))
	}
	fmt.Fprintln(os.Stderr)
	for _, f := range res.Failed {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", strings.Join(f.SnippetIDs, ", "), f.Cause)
	}
	return printJSON(res)
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Resolve entity aliases",
	Long: `Merge suggests, confirms and applies alias merges. Suggestions are never
applied until a person accepts them.`,
}

var mergeSuggestCmd = &cobra.Command{
	Use:   "suggest <project> [entity-id...]",
	Short: "Suggest merges among canonical entities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			suggestions, err := svc.SuggestMerges(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return printJSON(suggestions)
		})
	},
}

var mergeConfirmCmd = &cobra.Command{
	Use:   "confirm <project> <suggestion-id=accepted|rejected|pending...>",
	Short: "Record decisions on merge suggestions",
	Long: `Confirm records a decision for each suggestion.

Example:
  petitrace merge confirm chen-eb1 mrg_1a2b=accepted mrg_3c4d=rejected`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		decisions, err := parseDecisions(args[1:])
		if err != nil {
			return err
		}
		return withService(func(svc *pipeline.Service) error {
			res, err := svc.ConfirmMerges(cmd.Context(), args[0], decisions)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

// parseDecisions parses id=status pairs
func parseDecisions(args []string) ([]model.MergeDecision, error) {
	decisions := make([]model.MergeDecision, 0, len(args))
	for _, arg := range args {
		id, status, ok := strings.Cut(arg, "=")
		if !ok || id == "" || status == "" {
			return nil, fmt.Errorf("%w: decision %q, expected <id>=<status>", model.ErrInvalidInput, arg)
		}
		decisions = append(decisions, model.MergeDecision{ID: id, Status: model.MergeStatus(status)})
	}
	return decisions, nil
}

var mergeApplyCmd = &cobra.Command{
	Use:   "apply <project>",
	Short: "Apply accepted merges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			n, err := svc.ApplyMerges(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Applied %d merges\n", n)
			return printJSON(map[string]int{"merged_count": n})
		})
	},
}

var mergeManualCmd = &cobra.Command{
	Use:   "manual <project> <primary-name> <alias-name...>",
	Short: "Merge entities by name",
	Long: `Manual records an accepted merge of the named aliases into the primary
entity. It takes effect on the next 'merge apply'.

Example:
  petitrace merge manual chen-eb1 "Dr. Wei Chen" "W. Chen" "Chen Wei" --reason "same ORCID"`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			m, err := svc.ManualMerge(cmd.Context(), args[0], args[1], args[2:], manualReason)
			if err != nil {
				return err
			}
			return printJSON(m)
		})
	},
}

// withService opens the service for the duration of fn
func withService(fn func(*pipeline.Service) error) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func init() {
	rootCmd.AddCommand(extractCmd, mergeCmd)
	mergeCmd.AddCommand(mergeSuggestCmd, mergeConfirmCmd, mergeApplyCmd, mergeManualCmd)

	extractCmd.Flags().BoolVar(&extractForce, "force", false, "re-extract documents that were already extracted")
	extractCmd.Flags().StringVar(&extractApplicant, "applicant", "", "applicant name used to judge whose achievement a snippet is")
	mergeManualCmd.Flags().StringVar(&manualReason, "reason", "", "why the names refer to the same entity")
}

