package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"trackbot/internal/app"
)

var checkCmd = &cobra.Command{
	Use:   "check <identity>",
	Short: "Print the current submission status of an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := app.New(ctx, configPath(cmd))
		if err != nil {
			return err
		}
		defer stopQuietly(a)

		v, err := a.Check(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n%s %s: %s\ntracked: %v\n", v.Identity, v.Status, v.Emoji, v.Label, v.Description, v.Tracked)
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll over all subscribers and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := app.New(ctx, configPath(cmd))
		if err != nil {
			return err
		}
		defer stopQuietly(a)

		rep := a.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(),
			"run %s: checked=%d unchanged=%d changed=%d notified=%d skipped=%d superseded=%d failed=%d took=%s\n",
			rep.RunID, rep.Checked, rep.Unchanged, rep.Changed, rep.Notified, rep.Skipped, rep.Superseded, rep.Failed, rep.Duration.Round(time.Millisecond))
		if rep.Cancelled {
			return ctx.Err()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd, pollCmd)
}

func stopQuietly(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(ctx, app.StopCommand)
}
