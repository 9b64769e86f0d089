package cli

import (
	"fmt"

	"github.com/ppiankov/petitrace/internal/cache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the LLM reply cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached LLM reply",
	Long:  `Clear removes the on-disk reply cache so the next extraction asks the provider again.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		c := cache.New(cfg.Cache)
		if c == nil {
			fmt.Println("Cache is disabled; nothing to clear")
			return nil
		}
		if err := c.Purge(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Printf("✓ Cleared LLM reply cache (%s)\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
