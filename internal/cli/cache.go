package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rulecheck/internal/cache"
	"github.com/ppiankov/rulecheck/internal/model"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the on-disk evidence cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached evidence fact",
	Long: `Clear deletes the on-disk evidence cache (cache.dir or --cache-dir).
Run it after the claims database changes so stale facts are not reused.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commandConfig(cmd)
		if err != nil {
			return err
		}
		if err := clearCache(cfg.Cache); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared evidence cache at %s\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().String("cache-dir", "", "directory of the on-disk evidence cache")
}

// clearCache empties the cache described by cfg; only the disk layer outlives a run
func clearCache(cfg model.CacheConfig) error {
	if cfg.Dir == "" {
		return errors.New("no cache directory configured (set cache.dir or --cache-dir)")
	}
	if err := cache.New(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL).Clear(); err != nil {
		return fmt.Errorf("clear cache %s: %w", cfg.Dir, err)
	}
	return nil
}
