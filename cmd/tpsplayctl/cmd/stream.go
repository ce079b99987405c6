package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tpsplay/internal/tps/stream"
	"github.com/jmylchreest/tpsplay/internal/tps/wire"
)

var (
	streamTime    string
	streamChannel int32
	streamSpeed   float64
	streamDrain   bool
)

// streamCmd represents the `stream` command: seek to a wall-clock time on
// a channel and write the resulting H.265/G.711 frames to stdout in the
// §6 wire framing, pacing picture emission per the requested speed unless
// --drain is set.
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream H.265/G.711 frames from a seek point to stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if streamTime == "" {
			return fmt.Errorf("--time is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, loc, err := openStorage(cfg)
		if err != nil {
			return err
		}

		t, err := parseSeekTime(streamTime, loc)
		if err != nil {
			return fmt.Errorf("parsing --time: %w", err)
		}

		speed := streamSpeed
		if !cmd.Flags().Changed("speed") {
			speed = cfg.TPS.DefaultSpeed
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.TPS.StreamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.TPS.StreamTimeout)
			defer cancel()
		}

		segment, err := s.FindSegmentByTime(ctx, t.Unix(), streamChannel)
		if err != nil {
			return fmt.Errorf("finding segment: %w", err)
		}

		eng, err := stream.New(ctx, segment, stream.Options{
			Time:    t.Unix(),
			Channel: streamChannel,
			Speed:   speed,
			Drain:   streamDrain,
		})
		if err != nil {
			return fmt.Errorf("starting stream: %w", err)
		}
		defer eng.Close()

		return drive(ctx, eng, os.Stdout)
	},
}

// drive pumps Engine.Next() until a terminal event, writing every frame
// out in the wire framing. It is split out from the Run closure so it can
// be exercised independently of cobra plumbing.
func drive(ctx context.Context, eng *stream.Engine, out *os.File) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev := eng.Next()
		switch ev.Kind {
		case stream.EventVideo:
			if err := wire.WriteVideoFrame(w, ev.Video.TSMillis, ev.Video.NalKind, ev.Video.Payload); err != nil {
				return err
			}
		case stream.EventAudio:
			if err := wire.WriteAudioFrame(w, ev.Audio.TSMillis, ev.Audio.Payload); err != nil {
				return err
			}
		case stream.EventEnd:
			return w.Flush()
		case stream.EventError:
			w.Flush()
			return ev.Err
		}
	}
}

func init() {
	streamCmd.Flags().StringVar(&streamTime, "time", "", "seek time: RFC3339 in the configured timezone, or a relative expression like \"10 minutes ago\" (required)")
	streamCmd.Flags().Int32Var(&streamChannel, "channel", 2, "channel to stream")
	streamCmd.Flags().Float64Var(&streamSpeed, "speed", 1.0, "playback speed multiplier")
	streamCmd.Flags().BoolVar(&streamDrain, "drain", false, "disable pacing and emit frames as fast as possible")
	rootCmd.AddCommand(streamCmd)
}
