package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeolun/hawthorn/pkg/connector"
)

var flagTrustQuery bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the key re-acquire endpoint",
	Long: `Serve the key re-acquire endpoint.

A real host decides who the caller is from its own session. This standalone
server has no host session, so it only runs with --trust-query, which takes
the identity from the request parameters. Use it for development only.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagTrustQuery, "trust-query", false, "take the user identity from the request (development only)")
}

// queryIdentity trusts the identity the client sends back
func queryIdentity(r *http.Request, channel string) (connector.Identity, error) {
	q := r.URL.Query()
	return connector.Identity{
		User:        q.Get("user"),
		DisplayName: q.Get("displayname"),
		Extra:       q.Get("extra"),
		Permissions: q.Get("permissions"),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(os.Stderr)
	if err != nil {
		return err
	}
	if !flagTrustQuery {
		return errors.New("no identity source: pass --trust-query to run without a host")
	}

	srv, err := connector.NewServer(cfg.ToConnectorConfig(), connector.IdentityProviderFunc(queryIdentity), cfg.HTTP.ChannelPattern)
	if err != nil {
		return err
	}
	srv.SetLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown error")
		}
	}()

	logger.Warn().Str("listen", cfg.HTTP.Listen).Msg("serving re-acquire endpoint with identities taken from requests")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
