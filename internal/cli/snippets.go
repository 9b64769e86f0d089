package cli

import (
	"fmt"

	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/spf13/cobra"
)

var snippetsUnconfirm bool

var snippetsCmd = &cobra.Command{
	Use:   "snippets",
	Short: "Review extracted evidence snippets",
}

var snippetsConfirmCmd = &cobra.Command{
	Use:   "confirm <project> <snippet-id...>",
	Short: "Mark snippets as reviewed",
	Long: `Confirm records a reviewer's sign-off on individual snippets.

Example:
  petitrace snippets confirm chen-eb1 snp_1_1 snp_1_3
  petitrace snippets confirm chen-eb1 snp_1_2 --undo`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			for _, id := range args[1:] {
				sn, err := svc.ConfirmSnippet(cmd.Context(), args[0], id, !snippetsUnconfirm)
				if err != nil {
					return err
				}
				fmt.Printf("%s confirmed=%t\n", sn.ID, sn.Confirmed)
			}
			return nil
		})
	},
}

var snippetsConfirmAllCmd = &cobra.Command{
	Use:   "confirm-all <project>",
	Short: "Confirm every pending snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			n, err := svc.ConfirmAllSnippets(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Confirmed %d snippets\n", n)
			return nil
		})
	},
}

var snippetsStatsCmd = &cobra.Command{
	Use:   "stats <project>",
	Short: "Show how much evidence has been reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *pipeline.Service) error {
			stats, err := svc.SnippetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(snippetsCmd)
	snippetsCmd.AddCommand(snippetsConfirmCmd, snippetsConfirmAllCmd, snippetsStatsCmd)

	snippetsConfirmCmd.Flags().BoolVar(&snippetsUnconfirm, "undo", false, "clear the confirmation instead")
}
