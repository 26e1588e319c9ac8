package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/eventsock/internal/config"
	"github.com/codefionn/eventsock/internal/logger"
)

var listenWatchConfig bool

var listenCmd = &cobra.Command{
	Use:   "listen EVENT...",
	Short: "Print unsolicited events until interrupted",
	Long: `Subscribe to one or more events and print every matching frame as
"event payload" lines until interrupted.

With --watch the config file is watched and a changed log level is applied
without reconnecting.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolVar(&listenWatchConfig, "watch", false, "Reload the log level when the config file changes")
}

func runListen(cmd *cobra.Command, args []string) error {
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

	var out sync.Mutex
	for _, event := range args {
		sess.router.On(event, func(event string, payload json.RawMessage) {
			out.Lock()
			defer out.Unlock()
			fmt.Printf("%s %s\n", color.BlueString(event), payload)
		})
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if listenWatchConfig {
		g.Go(func() error {
			return config.Watch(ctx, configPath(), func(next *config.Config, err error) {
				if err != nil {
					logger.Global().Warn("ignoring config change: %v", err)
					return
				}
				level := logger.ParseLevel(next.LogLevel)
				logger.Global().SetLevel(level)
				logger.Global().Info("log level set to %s", level)
			})
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}
