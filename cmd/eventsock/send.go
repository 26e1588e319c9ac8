package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/eventsock/internal/router"
)

var (
	sendSuccessEvent string
	sendPersist      bool
	sendWait         time.Duration
	sendTID          string
)

var sendCmd = &cobra.Command{
	Use:   "send EVENT [PAYLOAD]",
	Short: "Send one request and print its response",
	Long: `Send one request and wait for the matching response.

PAYLOAD is a JSON object; the transaction id is added as "tid".

Examples:
  eventsock send text '{"cid":"CON-1","body":{"text":"hello"}}'
  eventsock send audio:mute:on '{"cid":"CON-1"}' --persist
  eventsock send member:invite --success member:invited --wait 10s`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendSuccessEvent, "success", "", "Success event (default EVENT:success)")
	sendCmd.Flags().BoolVar(&sendPersist, "persist", false, "Keep the request in the durable queue until answered")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 30*time.Second, "How long to wait for the response")
	sendCmd.Flags().StringVar(&sendTID, "tid", "", "Transaction id (default: random)")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	payload := json.RawMessage(`{}`)
	if len(args) == 2 {
		payload = json.RawMessage(args[1])
	}

	opts := []router.RequestOption{}
	if sendPersist {
		opts = append(opts, router.Persistent())
	}
	if sendTID != "" {
		opts = append(opts, router.WithTransactionID(sendTID))
	}
	req := router.NewRequest(args[0], sendSuccessEvent, payload, opts...)

	sess, err := openSession(cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	results := make(chan router.Result, 1)
	if err := sess.router.SendRequest(req, func(r router.Result) { results <- r }); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	select {
	case res := <-results:
		return printResult(req, res)
	case <-time.After(sendWait):
		return fmt.Errorf("no response to %s (%s) within %s", req.RequestEventName(), req.TransactionID(), sendWait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printResult(req router.Request, res router.Result) error {
	if !res.OK() {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("error"), res.Err.Error())
		if len(res.Err.Payload) > 0 {
			fmt.Println(string(res.Err.Payload))
		}
		return fmt.Errorf("%s failed", req.RequestEventName())
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", color.GreenString("ok"), req.SuccessEventName())
	if raw, ok := res.Value.(json.RawMessage); ok {
		fmt.Println(string(raw))
	}
	return nil
}
