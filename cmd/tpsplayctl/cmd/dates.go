package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tpsplay/internal/tps/query"
)

var datesChannel int32

// datesCmd represents the `dates` command, listing every calendar date
// (in the configured timezone) that has at least one recorded segment.
var datesCmd = &cobra.Command{
	Use:   "dates",
	Short: "List recording dates present in the configured recordings directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
			channel = &datesChannel
		}

		for _, d := range query.ListDates(s, channel, loc) {
			fmt.Println(d)
		}
		return nil
	},
}

func init() {
	datesCmd.Flags().Int32Var(&datesChannel, "channel", 0, "restrict to a single channel")
	rootCmd.AddCommand(datesCmd)
}
