package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codefionn/eventsock/internal/config"
)

var (
	configFile   string
	addressFlag  string
	pathFlag     string
	tokenFlag    string
	logLevelFlag string
	queueBackend string
	queuePath    string
	noReconnect  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "eventsock",
	Short: "Request/response client for JSON event sockets",
	Long: `eventsock talks to a server that exchanges [event, payload] frames over a
websocket. Requests are correlated with their responses by transaction id,
unsolicited events can be followed, and persistable requests survive a
restart in the durable queue.

Use 'eventsock help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (default "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&addressFlag, "address", "", "Server address (ws, wss, http or https)")
	rootCmd.PersistentFlags().StringVar(&pathFlag, "path", "", "Socket path appended to the address")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token sent with the handshake")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error, none")
	rootCmd.PersistentFlags().StringVar(&queueBackend, "queue-backend", "", "Durable queue backend: file, sqlite or none")
	rootCmd.PersistentFlags().StringVar(&queuePath, "queue-path", "", "Durable queue file or database")
	rootCmd.PersistentFlags().BoolVar(&noReconnect, "no-reconnect", false, "Do not reconnect after a drop")
}

// configPath returns the --config value or the default location
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.GetConfigPath()
}

// loadConfig loads the config file and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Server.Address = addressFlag
	}
	if flags.Changed("path") {
		cfg.Server.Path = pathFlag
	}
	if flags.Changed("token") {
		cfg.Server.Token = tokenFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("queue-backend") {
		cfg.Queue.Backend = queueBackend
	}
	if flags.Changed("queue-path") {
		cfg.Queue.Path = queuePath
	}
	if noReconnect {
		cfg.Reconnect.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
