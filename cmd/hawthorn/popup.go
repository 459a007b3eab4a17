package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/hawthorn/pkg/client"
	"github.com/aeolun/hawthorn/pkg/config"
	"github.com/aeolun/hawthorn/pkg/popup"
)

var (
	flagMetricsAddr string
	flagDate        string
)

var popupCmd = &cobra.Command{
	Use:   "popup <popup-url>",
	Short: "Open the chat popup in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runPopup,
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show how each chat server has answered this client",
	Args:  cobra.NoArgs,
	RunE:  runServers,
}

var logCmd = &cobra.Command{
	Use:   "log <popup-url>",
	Short: "Print a channel's chat log for one day (needs admin permission)",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	popupCmd.Flags().StringVar(&flagMetricsAddr, "metrics", "", "serve transport metrics on this address")
	logCmd.Flags().StringVar(&flagDate, "date", time.Now().Format("2006-01-02"), "day to fetch (YYYY-MM-DD)")
}

// chatClient is a session with the transport and state behind it
type chatClient struct {
	session   *client.Session
	transport *client.Transport
	state     *client.State
	logger    zerolog.Logger
}

func (c *chatClient) Close() {
	c.transport.Close()
	if err := c.state.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close state")
	}
}

func openState(cfg config.TOMLConfig) (*client.State, error) {
	statePath, err := cfg.GetStatePath()
	if err != nil {
		return nil, err
	}
	return client.OpenState(statePath)
}

// openClient builds a session over state. The client owns state from here on.
func openClient(cfg config.TOMLConfig, params popup.Params, state *client.State, logger zerolog.Logger, metrics *client.Metrics) (*chatClient, error) {
	transport, err := client.NewTransport(cfg.ToTransportConfig(params.Servers))
	if err != nil {
		state.Close()
		return nil, err
	}
	transport.SetLogger(logger)
	transport.SetState(state)
	if metrics != nil {
		transport.SetMetrics(metrics)
	}

	session := client.NewSession(transport, params.SessionConfig())
	session.SetLogger(logger)

	return &chatClient{session: session, transport: transport, state: state, logger: logger}, nil
}

func runPopup(cmd *cobra.Command, args []string) error {
	params, err := popup.ParseParams(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	state, err := openState(cfg)
	if err != nil {
		return err
	}

	// The terminal belongs to the popup, so logs go to a file
	logFile, err := os.OpenFile(filepath.Join(state.GetStateDir(), "popup.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		state.Close()
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger, err := setupLogger(logFile)
	if err != nil {
		state.Close()
		return err
	}

	var metrics *client.Metrics
	if flagMetricsAddr != "" {
		metrics = client.NewMetrics(nil)
		metricsSrv := &http.Server{Addr: flagMetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer metricsSrv.Close()
	}

	c, err := openClient(cfg, params, state, logger, metrics)
	if err != nil {
		return err
	}
	defer c.Close()

	model := popup.New(c.session, cfg.ToPopupConfig(), params.Title)
	model.SetLogger(logger)

	logger.Info().Str("channel", params.Channel).Str("server", c.transport.CurrentServer()).Msg("opening popup")
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("popup: %w", err)
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	params, err := popup.ParseParams(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(os.Stderr)
	if err != nil {
		return err
	}
	state, err := openState(cfg)
	if err != nil {
		return err
	}

	c, err := openClient(cfg, params, state, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	lines, err := c.session.Log(ctx, flagDate)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func runServers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	state, err := openState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	records, err := state.ServerHistory()
	if err != nil {
		return fmt.Errorf("read server history: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no chat servers contacted yet")
		return nil
	}
	current := state.GetCurrentServer()
	for _, r := range records {
		mark := " "
		if r.Server == current {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s  ok %d  failed %d  last ok %s\n", mark, r.Server, r.Successes, r.Failures, formatSeen(r.LastSuccessAt))
	}
	return nil
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
