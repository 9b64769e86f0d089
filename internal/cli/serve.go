package cli

import (
	"github.com/ppiankov/petitrace/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve runs the HTTP API used by the review interface.

Set server.api_key (or PETITRACE_SERVER_API_KEY) to require a bearer token.

Example:
  petitrace serve
  petitrace serve --addr 0.0.0.0:8640`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		cfg := svc.Config()
		return server.New(svc, cfg.Server.APIKey).ListenAndServe(cmd.Context(), cfg.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
