package codebot

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/notify"
	"github.com/igorsilveira/codebot/pkg/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a running codebot in the terminal",
	RunE:  runWatch,
}

var watchAddr string

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "gateway address (default: local gateway port)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := watchAddr
	if addr == "" {
		addr = gatewayURL(cfg.Gateway.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := tui.Dial(ctx, addr, cfg.Gateway.AuthToken)
	if err != nil {
		return err
	}
	defer stream.Close()

	title := fmt.Sprintf("codebot @%s on %s", cfg.Bot.Handle, cfg.Feed.Kind)
	return tui.Run(title, func() (notify.Event, error) {
		return stream.Next(ctx)
	})
}
