package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

const defaultConfigPath = "~/.petitrace/config.yaml"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "petitrace",
	Short: "Petitrace - evidence provenance for immigration petitions",
	Long: `Petitrace turns OCR'd exhibits into traceable petition evidence.

It extracts snippets and entities from exhibits, resolves aliases of the
same person or organization, groups evidence into arguments, maps them to
eligibility standards, and traces every sentence of the petition letter
back to the page and bounding box it came from.

Petitrace does not decide eligibility. Every merge and mapping it
suggests waits for a person to confirm it.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log_level")
		if verbose {
			level = "debug"
		}
		return util.SetLogLevel(level)
	},
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for Petitrace.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("petitrace %s\n", util.Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	path := cfgFile
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	if err := configure(viper.GetViper(), path, explicit); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
	}
	if verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Keys that are empty by default and so missing from the defaults
// document. They are bound explicitly so their env vars are still read.
var envOnlyKeys = []string{
	"llm.api_key", "llm.base_url", "llm.http_proxy", "llm.https_proxy", "llm.no_proxy",
	"ocr.dir", "ocr.base_url", "server.api_key",
}

// configure layers defaults, the config file at path and PETITRACE_*
// environment variables into v. A missing file is an error only when the
// user named it.
func configure(v *viper.Viper, path string, explicit bool) error {
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return err
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	// Read in environment variables that match PETITRACE_*
	v.SetEnvPrefix("PETITRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expanding %s: %w", path, err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if explicit {
			return fmt.Errorf("config file %s: %w", expanded, err)
		}
		return nil
	}
	v.SetConfigFile(expanded)
	return v.MergeInConfig()
}

// loadConfig decodes the layered configuration. Provider API keys fall
// back to the providers' conventional environment variables.
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return cfg, nil
}

// openService loads configuration and opens the pipeline service
func openService() (*pipeline.Service, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return pipeline.Open(cfg)
}

// printJSON writes v to stdout as indented JSON
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
