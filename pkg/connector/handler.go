package connector

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// DefaultChannelPattern accepts course ("c123") and group ("g123") channels
const DefaultChannelPattern = `^[cg][0-9]{1,18}$`

var requestIDPattern = regexp.MustCompile(`^[0-9]{1,18}$`)

// IdentityProvider looks up the host user behind a re-acquire request and
// decides whether they may chat on channel. A non-nil error denies the
// request; its message is shown to the user.
type IdentityProvider interface {
	Identify(r *http.Request, channel string) (Identity, error)
}

// IdentityProviderFunc adapts a function to IdentityProvider
type IdentityProviderFunc func(r *http.Request, channel string) (Identity, error)

// Identify calls f
func (f IdentityProviderFunc) Identify(r *http.Request, channel string) (Identity, error) {
	return f(r, channel)
}

// Server answers the chat client's re-acquire requests for a host
type Server struct {
	cfg            Config
	provider       IdentityProvider
	channelPattern *regexp.Regexp

	registry   *prometheus.Registry
	reacquires *prometheus.CounterVec

	now    func() time.Time
	logger zerolog.Logger
}

// NewServer creates a re-acquire server. An empty channelPattern accepts any
// valid channel id.
func NewServer(cfg Config, provider IdentityProvider, channelPattern string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var pattern *regexp.Regexp
	if channelPattern != "" {
		var err error
		if pattern, err = regexp.Compile(channelPattern); err != nil {
			return nil, fmt.Errorf("invalid channel pattern: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	reacquires := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawthorn_connector_reacquires_total",
		Help: "Re-acquire requests by outcome",
	}, []string{"outcome"})
	registry.MustRegister(reacquires)

	return &Server{
		cfg:            cfg,
		provider:       provider,
		channelPattern: pattern,
		registry:       registry,
		reacquires:     reacquires,
		now:            time.Now,
		logger:         zerolog.Nop(),
	}, nil
}

// SetLogger sets the server logger
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Handler returns the HTTP routes: /reacquire, /health and /metrics
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/reacquire", s.handleReAcquire)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) validChannel(channel string) bool {
	if s.channelPattern != nil {
		return s.channelPattern.MatchString(channel)
	}
	return auth.ValidChannel(channel, false)
}

func (s *Server) handleReAcquire(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id := query.Get("id")
	channel := query.Get("channel")

	if !requestIDPattern.MatchString(id) || !s.validChannel(channel) {
		s.reacquires.WithLabelValues("invalid").Inc()
		http.Error(w, ErrInvalidRequest.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")

	identity, err := s.provider.Identify(r, channel)
	if err != nil {
		s.logger.Info().Err(err).Str("channel", channel).Msg("re-acquire denied")
		s.reacquires.WithLabelValues("denied").Inc()
		fmt.Fprintln(w, ReAcquireDeny(id, err.Error()))
		return
	}

	c, err := New(s.cfg, identity)
	if err != nil {
		s.logger.Error().Err(err).Str("user", identity.User).Msg("host returned an unusable identity")
		s.reacquires.WithLabelValues("error").Inc()
		fmt.Fprintln(w, ReAcquireDeny(id, err.Error()))
		return
	}
	c.now = s.now
	c.SetLogger(s.logger)

	script, err := c.ReAcquireAllow(id, channel)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("could not issue key")
		s.reacquires.WithLabelValues("error").Inc()
		fmt.Fprintln(w, ReAcquireDeny(id, err.Error()))
		return
	}

	s.reacquires.WithLabelValues("allowed").Inc()
	fmt.Fprintln(w, script)
}
