package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var replayWait time.Duration

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-send requests left in the durable queue",
	Long: `Connect and re-send every request a previous run left in the durable
queue, one at a time and in their original order. Requests that are still
unanswered when the command stops remain queued.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().DurationVar(&replayWait, "wait", 2*time.Minute, "How long to wait for the queue to drain")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	sess, err := openSession(cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	flushed := make(chan struct{})
	if err := sess.router.ReplayDurable(func() { close(flushed) }); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	select {
	case <-flushed:
		fmt.Println(color.GreenString("queue flushed"))
		return nil
	case <-time.After(replayWait):
		return fmt.Errorf("queue not drained within %s, %d request(s) pending", replayWait, sess.router.PendingCount())
	case <-ctx.Done():
		return ctx.Err()
	}
}
