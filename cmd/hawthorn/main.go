package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aeolun/hawthorn/pkg/config"
	"github.com/aeolun/hawthorn/pkg/connector"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "hawthorn",
	Short:         "Hawthorn chat client, key issuer and re-acquire endpoint",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", config.DefaultPath, "path to the config file")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(keyCmd, statsCmd, popupCmd, logCmd, serversCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogger configures the global logger to write to w
func setupLogger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

func loadConfig() (config.TOMLConfig, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return config.TOMLConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

var (
	flagUser        string
	flagDisplayName string
	flagExtra       string
	flagPermissions string
	flagChannel     string
	flagTitle       string
)

func addIdentityFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&flagUser, "user", "", "host user id")
	flags.StringVar(&flagDisplayName, "displayname", "", "name shown in chat")
	flags.StringVar(&flagExtra, "extra", "", "extra data passed to other clients")
	flags.StringVar(&flagPermissions, "permissions", "rw", "permission codes (r, w, m, a)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("displayname")
}

func newConnector() (*connector.Connector, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	c, err := connector.New(cfg.ToConnectorConfig(), connector.Identity{
		User:        flagUser,
		DisplayName: flagDisplayName,
		Extra:       flagExtra,
		Permissions: flagPermissions,
	})
	if err != nil {
		return nil, err
	}
	c.SetLogger(logger)
	return c, nil
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Issue a key and print the popup URL for a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newConnector()
		if err != nil {
			return err
		}
		key, err := c.AuthKey(flagChannel)
		if err != nil {
			return err
		}
		popupURL := c.PopupURLForKey(key, flagTitle)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "key:     %s\n", key.Digest)
		fmt.Fprintf(out, "keyTime: %d (%s)\n", key.KeyTime, time.UnixMilli(key.KeyTime).Format(time.RFC3339))
		fmt.Fprintf(out, "popup:   %s\n", popupURL)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print signed statistics page URLs for every server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newConnector()
		if err != nil {
			return err
		}
		urls, err := c.StatisticsURLs()
		if err != nil {
			return err
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	},
}

func init() {
	addIdentityFlags(keyCmd)
	keyCmd.Flags().StringVar(&flagChannel, "channel", "", "channel id")
	keyCmd.Flags().StringVar(&flagTitle, "title", "", "popup window title")
	_ = keyCmd.MarkFlagRequired("channel")

	addIdentityFlags(statsCmd)
}
