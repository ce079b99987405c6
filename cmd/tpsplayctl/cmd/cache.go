package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tpsplay/internal/tps/query"
)

var cacheConcurrency int

// cacheCmd groups the frame-index cache status/prebuild subcommands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or warm the frame-index cache",
}

// cacheStatusCmd reports the §6 cache_status query: built/total segment
// counts and the coarse building/ready state.
var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report frame-index cache build progress",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, _, err := openStorage(cfg)
		if err != nil {
			return err
		}

		st := query.GetCacheStatus(s)
		fmt.Printf("state=%s built=%d total=%d (%.1f%%)\n", st.State, st.Built, st.Total, st.Percent)
		return nil
	},
}

// cacheBuildCmd eagerly builds every segment's cache entry, fanning out
// with a bounded concurrency.
var cacheBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Eagerly build the frame-index cache for every recording segment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, _, err := openStorage(cfg)
		if err != nil {
			return err
		}

		concurrency := cacheConcurrency
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.TPS.PrebuildConcurrency
		}

		if err := s.Prebuild(cmd.Context(), concurrency); err != nil {
			return fmt.Errorf("prebuilding cache: %w", err)
		}

		st := query.GetCacheStatus(s)
		fmt.Printf("state=%s built=%d total=%d\n", st.State, st.Built, st.Total)
		return nil
	},
}

// cacheWatchCmd runs the configured cache-refresh cron schedule in the
// foreground until interrupted; each tick runs Storage.Prebuild over the
// segments of the master index loaded at startup.
var cacheWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the periodic cache-refresh schedule in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.TPS.CacheRefreshCron == "" {
			return fmt.Errorf("tps.cache_refresh_cron is empty, nothing to schedule")
		}

		s, _, err := openStorage(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := s.StartRefresh(ctx, cfg.TPS.CacheRefreshCron)
		if err != nil {
			return err
		}
		defer c.Stop()

		fmt.Printf("watching with schedule %q, press ctrl-c to stop\n", cfg.TPS.CacheRefreshCron)
		<-ctx.Done()
		return nil
	},
}

func init() {
	cacheBuildCmd.Flags().IntVar(&cacheConcurrency, "concurrency", 4, "number of segments to build concurrently")
	cacheCmd.AddCommand(cacheStatusCmd, cacheBuildCmd, cacheWatchCmd)
	rootCmd.AddCommand(cacheCmd)
}
