package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagEcho  = "echo"
	flagStats = "stats"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print received frames until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ch, err := selectChannel(cmd)
		if err != nil {
			return err
		}
		if echo, _ := cmd.Flags().GetBool(flagEcho); echo {
			if err := ch.SetEcho(true); err != nil {
				return err
			}
		}
		if err := open(ctx, cmd, ch); err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration(flagStats)
		return dump(ctx, ch, os.Stdout, interval)
	},
}

func init() {
	dumpCmd.Flags().Bool(flagEcho, false, "also print frames sent on this channel")
	dumpCmd.Flags().Duration(flagStats, 0, "print channel counters at this interval, 0 disables")
	rootCmd.AddCommand(dumpCmd)
}

// Print received frames, and the channel counters every interval,
// until ctx is done or the channel is closed
func dump(ctx context.Context, ch *channel.Channel, out io.Writer, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			frame, err := ch.Receive(ctx)
			if errors.Is(err, canwrap.ErrRxOverflow) {
				log.Warnf("[CAN] %v : %v", ch.Name(), err)
			} else if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if frame.Type == canwrap.ErrorFrame {
				fmt.Fprintf(out, "%10d %s %s\n", frame.Timestamp, frame.ColorString(), can.DescribeErrorFrame(frame))
				continue
			}
			fmt.Fprintf(out, "%10d %s\n", frame.Timestamp, frame.ColorString())
		}
	})
	if interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					stats := ch.Stats()
					fmt.Fprintf(out, "# rx=%d tx=%d overflow=%d bus-errors=%d\n", stats.Rx, stats.Tx, stats.Overflow, stats.BusErrors)
				}
			}
		})
	}
	return g.Wait()
}
