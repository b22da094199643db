package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	gcExpire   time.Duration
	gcInterval time.Duration
	gcOnce     bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Evict expired session overlays from the record store",
	Long: `gc runs the store's session garbage collection, evicting overlays whose
last activity is older than --expire.

With --once it runs a single pass and exits; otherwise it runs on a
time.Ticker at --interval until interrupted, the same "run forever on a
ticker" shape a cron-less maintenance command takes when no scheduler
library is a fit for the job.`,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().DurationVar(&gcExpire, "expire", 24*time.Hour, "evict sessions idle longer than this")
	gcCmd.Flags().DurationVar(&gcInterval, "interval", 10*time.Minute, "how often to sweep, when not --once")
	gcCmd.Flags().BoolVar(&gcOnce, "once", false, "run a single sweep and exit")
}

func runGC(c *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	log := logger()
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sweep := func() error {
		evicted, err := eng.Store().GC(ctx, gcExpire)
		if err != nil {
			return fmt.Errorf("gc sweep: %w", err)
		}
		log.Info("gc sweep complete", "evicted", evicted, "expire", gcExpire)
		return nil
	}

	if gcOnce {
		return sweep()
	}

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	if err := sweep(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sweep(); err != nil {
				log.Error("gc sweep failed", "error", err)
			}
		}
	}
}
