package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tpsplay/internal/tps/query"
)

var (
	listChannel int32
	listDate    string
)

// listCmd represents the `list` command: every recorded segment
// overlapping a given date, optionally filtered to one channel.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recording segments for a given date (YYYY-MM-DD)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if listDate == "" {
			return fmt.Errorf("--date is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, loc, err := openStorage(cfg)
		if err != nil {
			return err
		}

		var channel *int32
		if cmd.Flags().Changed("channel") {
			channel = &listChannel
		}

		recordings, err := query.ListRecordings(s, listDate, channel, loc)
		if err != nil {
			return fmt.Errorf("listing recordings: %w", err)
		}

		for _, r := range recordings {
			fmt.Printf("%06d\tchannel=%d\t%s -> %s\t(%s, %d frames)\n",
				r.ID, r.Channel,
				r.Start.Format("15:04:05"), r.End.Format("15:04:05"),
				r.Duration, r.FrameCount)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listDate, "date", "", "date to list, YYYY-MM-DD (required)")
	listCmd.Flags().Int32Var(&listChannel, "channel", 0, "restrict to a single channel")
	rootCmd.AddCommand(listCmd)
}
