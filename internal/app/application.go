// Package app assembles the messaging subsystem: store, gateway, REST
// API and HTTP server, started and stopped as one unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"guestline/internal/api"
	"guestline/internal/auth"
	"guestline/internal/config"
	"guestline/internal/gateway"
	"guestline/internal/metrics"
	"guestline/internal/store"
)

// Application owns every component and their lifecycle. Initialization
// order is store, auth, gateway, API, HTTP; shutdown runs the reverse.
type Application struct {
	cfg        *config.Config
	store      *store.Store
	verifier   *auth.Verifier
	gateway    *gateway.Gateway
	apiServer  *api.Server
	httpServer *http.Server
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New builds the application from validated configuration.
func New(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build token verifier: %w", err)
	}

	m := metrics.New()

	gw := gateway.New(gateway.Config{
		MaxMessageLength:  cfg.Messaging.MaxMessageLength,
		TypingExpiry:      cfg.Gateway.TypingExpiry,
		SendRatePerMinute: cfg.Gateway.SendRatePerMinute,
		SendBurst:         cfg.Gateway.SendBurst,
		PingInterval:      cfg.Gateway.PingInterval,
		ReadTimeout:       cfg.Gateway.ReadTimeout,
	}, verifier, st, st, m, log.With().Str("component", "gateway").Logger())

	apiServer := api.NewServer(st, st, gw.Presence(), verifier, m, log.With().Str("component", "api").Logger(), api.Options{
		HealthCheck: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.HealthCheck(ctx)
		},
		MaxMessageLength: cfg.Messaging.MaxMessageLength,
	})

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws", gw.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		store:      st,
		verifier:   verifier,
		gateway:    gw,
		apiServer:  apiServer,
		httpServer: httpServer,
		metrics:    m,
		log:        log,
	}, nil
}

// Start brings the HTTP listener up and returns once it is accepting, or
// with the startup error if it never did.
func (a *Application) Start(ctx context.Context) error {
	a.log.Info().Str("addr", a.httpServer.Addr).Msg("starting server")

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		a.log.Info().Msg("server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse order: stop accepting HTTP, tear
// down live websocket connections, then close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info().Msg("shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown error")
	}

	a.gateway.Close()

	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("store shutdown error")
	}

	a.log.Info().Msg("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
