package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	flagTimeout  = "timeout"
	flagCount    = "count"
	flagInterval = "interval"
)

var sendCmd = &cobra.Command{
	Use:   "send <frame>...",
	Short: "send frames",
	Long: `Send frames written in candump notation :

	123#DEADBEEF     standard id, classic frame
	12345678#00      extended id (8 digits)
	123#R            remote frame
	123##1DEADBEEF   CAN FD frame, flag nibble 1 enables bitrate switch`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames := make([]canwrap.Frame, 0, len(args))
		for _, arg := range args {
			frame, err := parseCanFrame(arg)
			if err != nil {
				return err
			}
			frames = append(frames, frame)
		}
		timeout, _ := cmd.Flags().GetInt32(flagTimeout)
		count, _ := cmd.Flags().GetInt(flagCount)
		interval, _ := cmd.Flags().GetDuration(flagInterval)

		ctx := cmd.Context()
		ch, err := openChannel(ctx, cmd)
		if err != nil {
			return err
		}
		for i := 0; count <= 0 || i < count; i++ {
			sent, err := ch.SetMessages(frames, timeout)
			if err != nil {
				return fmt.Errorf("sent %d/%d frames : %w", sent, len(frames), err)
			}
			log.Debugf("[CAN] sent %d frames on %v", sent, ch.Name())
			if count > 0 && i == count-1 {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().Int32(flagTimeout, 100, "transmit timeout in ms per frame")
	sendCmd.Flags().IntP(flagCount, "n", 1, "number of times the frames are sent, 0 for endless")
	sendCmd.Flags().Duration(flagInterval, 100*time.Millisecond, "delay between repetitions")
	rootCmd.AddCommand(sendCmd)
}

// Parse a frame in candump notation
func parseCanFrame(s string) (canwrap.Frame, error) {
	invalid := fmt.Errorf("%w: invalid frame %q", canwrap.ErrIllegalArgument, s)
	idStr, dataStr, ok := strings.Cut(s, "#")
	if !ok {
		return canwrap.Frame{}, invalid
	}
	var extended bool
	switch len(idStr) {
	case 3:
	case 8:
		extended = true
	default:
		return canwrap.Frame{}, invalid
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return canwrap.Frame{}, invalid
	}
	typ := canwrap.Classic
	switch {
	case strings.HasPrefix(dataStr, "#"):
		if len(dataStr) < 2 {
			return canwrap.Frame{}, invalid
		}
		flags, err := strconv.ParseUint(dataStr[1:2], 16, 8)
		if err != nil {
			return canwrap.Frame{}, invalid
		}
		typ = canwrap.FD
		if flags&0x1 != 0 {
			typ = canwrap.FDBRS
		}
		dataStr = dataStr[2:]
	case strings.HasPrefix(dataStr, "R") || strings.HasPrefix(dataStr, "r"):
		frame := canwrap.NewFrame(uint32(id), canwrap.Remote, extended, nil)
		return frame, frame.Validate()
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, ".", ""))
	if err != nil {
		return canwrap.Frame{}, invalid
	}
	frame := canwrap.NewFrame(uint32(id), typ, extended, data)
	return frame, frame.Validate()
}
