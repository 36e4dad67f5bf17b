package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/manifoldco/promptui"
	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Channel selected with the flags, prompts when no channel was given
func selectChannel(cmd *cobra.Command) (*channel.Channel, error) {
	name, _ := cmd.Flags().GetString(flagChannel)
	index, _ := cmd.Flags().GetInt(flagIndex)
	if name == "" {
		channels := mgr.FindAllChannels()
		if len(channels) == 0 {
			return nil, canwrap.ErrChannelNotFound
		}
		items := make([]string, 0, len(channels))
		for _, info := range channels {
			items = append(items, info.Name)
		}
		prompt := promptui.Select{
			Label:    "Channel",
			Items:    items,
			HideHelp: true,
		}
		_, result, err := prompt.Run()
		if err != nil {
			return nil, fmt.Errorf("no channel selected : %w", err)
		}
		name, index = result, 0
	}
	handle, err := mgr.GetChannel(name, index)
	if err != nil && !canwrap.IsWarning(err) {
		return nil, err
	}
	return mgr.Channel(handle)
}

func parseOpenType(value string) (canwrap.OpenType, error) {
	for t := canwrap.OpenCAN; t <= canwrap.OpenFDNonISO; t++ {
		if t.String() == value {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown open type %q", canwrap.ErrIllegalArgument, value)
}

func parseOpenMode(value string) (canwrap.OpenMode, error) {
	for m := canwrap.ModeNormal; m <= canwrap.ModeLoopback; m++ {
		if m.String() == value {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown open mode %q", canwrap.ErrIllegalArgument, value)
}

func openChannel(ctx context.Context, cmd *cobra.Command) (*channel.Channel, error) {
	ch, err := selectChannel(cmd)
	if err != nil {
		return nil, err
	}
	return ch, open(ctx, cmd, ch)
}

// Configure the bitrates given on the command line then open the channel.
// Opening is retried for backend errors, e.g. an adapter that is still enumerating.
func open(ctx context.Context, cmd *cobra.Command, ch *channel.Channel) error {
	typeStr, _ := cmd.Flags().GetString(flagType)
	openType, err := parseOpenType(typeStr)
	if err != nil {
		return err
	}
	modeStr, _ := cmd.Flags().GetString(flagMode)
	mode, err := parseOpenMode(modeStr)
	if err != nil {
		return err
	}
	if bitrate, _ := cmd.Flags().GetUint64(flagBitrate); bitrate != 0 {
		if err := ch.SetBaudRate(bitrate); err != nil {
			return err
		}
	}
	if bitrate, _ := cmd.Flags().GetUint64(flagFDBitrate); bitrate != 0 {
		if err := ch.SetFdBaudRate(bitrate); err != nil {
			return err
		}
	}
	err = retry.Do(
		func() error {
			return ch.Open(openType, mode)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, canwrap.ErrBackend)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("[CAN] open %v failed (attempt %d) : %v", ch.Name(), n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	return err
}
