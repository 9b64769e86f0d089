package cli

import (
	"fmt"
	"os"

	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/spf13/cobra"
)

var generateApplicant string

var argsCmd = &cobra.Command{
	Use:   "args",
	Short: "Assemble evidence into arguments",
}

var argsGenerateCmd = &cobra.Command{
	Use:   "generate <project>",
	Short: "Group the applicant's snippets into arguments",
	Long: `Generate groups every snippet about the applicant that is not yet in an
argument. Snippets about other people, or without an evidence type, are
reported as unassigned with the reason.

Example:
  petitrace args generate chen-eb1 --applicant "Dr. Wei Chen"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateApplicant == "" {
			return fmt.Errorf("--applicant is required")
		}
		return withService(func(svc *pipeline.Service) error {
			res, err := svc.GenerateArguments(cmd.Context(), args[0], generateApplicant)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ %d arguments, %d snippets unassigned\n", len(res.Arguments), len(res.Unassigned))
			return printJSON(map[string]any{
				"arguments":              res.Arguments,
				"unassigned_snippet_ids": res.UnassignedIDs(),
				"unassigned":             res.Unassigned,
			})
		})
	},
}

var argsListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List arguments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			list, err := svc.Arguments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Map arguments to eligibility standards",
}

var mapSuggestCmd = &cobra.Command{
	Use:   "suggest <project>",
	Short: "Suggest a standard for every unmapped argument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			edges, err := svc.SuggestMappings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(edges)
		})
	},
}

var mapConfirmAllCmd = &cobra.Command{
	Use:   "confirm-all <project>",
	Short: "Confirm every pending mapping of a reviewed argument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			res, err := svc.ConfirmAllMappings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Confirmed %d, skipped %d\n", len(res.Confirmed), len(res.Skipped))
			return printJSON(res)
		})
	},
}

var mapListCmd = &cobra.Command{
	Use:   "list <project> [argument-id]",
	Short: "List mapping edges",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		argumentID := ""
		if len(args) == 2 {
			argumentID = args[1]
		}
		return withService(func(svc *pipeline.Service) error {
			edges, err := svc.Mappings(cmd.Context(), args[0], argumentID)
			if err != nil {
				return err
			}
			return printJSON(edges)
		})
	},
}

func init() {
	rootCmd.AddCommand(argsCmd, mapCmd)
	argsCmd.AddCommand(argsGenerateCmd, argsListCmd)
	mapCmd.AddCommand(mapSuggestCmd, mapConfirmAllCmd, mapListCmd)

	argsGenerateCmd.Flags().StringVar(&generateApplicant, "applicant", "", "applicant name")
}
