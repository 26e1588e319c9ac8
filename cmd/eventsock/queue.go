package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/eventsock/internal/config"
	"github.com/codefionn/eventsock/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the durable queue without connecting",
}

var queueShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List queued requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store queue.Store) error {
			data, found, err := store.Read()
			if err != nil {
				return err
			}
			var entries []queue.Entry
			if found && len(data) > 0 {
				if err := json.Unmarshal(data, &entries); err != nil {
					return fmt.Errorf("%w: %v", queue.ErrCorruptSnapshot, err)
				}
			}
			if len(entries) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			for i, e := range entries {
				fmt.Printf("%s %s %s\n", color.CyanString("%3d", i+1), color.BlueString(e.Name), e.Payload)
			}
			return nil
		})
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store queue.Store) error {
			entries, err := queue.New(store).LoadAndClear()
			if err != nil {
				return err
			}
			fmt.Printf("dropped %d request(s)\n", len(entries))
			return nil
		})
	},
}

func init() {
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func withStore(cmd *cobra.Command, fn func(queue.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Queue.Backend == config.QueueNone {
		return fmt.Errorf("durable queue is disabled")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
