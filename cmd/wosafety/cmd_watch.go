package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/wosafety/internal/channel"
	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("url", "", "daemon base URL (defaults to http://<http.listen>)")
}

var watchCmd = &cobra.Command{
	Use:   "watch <session id>",
	Short: "Follow a running safety check on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		baseURL, _ := cmd.Flags().GetString("url")
		if baseURL == "" {
			baseURL = "http://" + strings.TrimPrefix(cfg.HTTP.Listen, "http://")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sub := stream.NewSubscription(channel.NewWSClient(baseURL), stream.WithTimeout(cfg.StreamTimeout()))
		defer sub.Close()

		printer := &deltaPrinter{}
		sub.OnUpdate(func(frags []types.Fragment) {
			printer.print(render.Markdown(frags))
		})
		if err := sub.Open(args[0]); err != nil {
			return fmt.Errorf("subscribe to %s: %w", args[0], err)
		}

		select {
		case <-sub.Done():
		case <-ctx.Done():
			return nil
		}
		fmt.Println()

		switch st := sub.State(); st {
		case stream.StateFailed:
			return sub.Err()
		case stream.StateTimedOut:
			fmt.Println(labelStyle.Render("Stream timed out."))
		default:
			fmt.Println(labelStyle.Render("Stream " + st.String() + "."))
		}
		return nil
	},
}
