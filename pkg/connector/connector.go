// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RelayConnector owns the process state, the current session and the
// status server.
type RelayConnector struct {
	Config Config
	State  *ProcessState

	log     zerolog.Logger
	factory ClientFactory
	qrOut   io.Writer

	mu         sync.Mutex
	session    *relaySession
	generation uint64
	backoff    *reconnectBackoff
	stopped    bool

	baseCtx    context.Context
	cancelBase context.CancelFunc

	server *http.Server
}

// NewRelayConnector creates a connector for an already post-processed
// config. Sessions are created through factory.
func NewRelayConnector(cfg Config, log zerolog.Logger, factory ClientFactory) *RelayConnector {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &RelayConnector{
		Config:     cfg,
		State:      NewProcessState(),
		log:        log.With().Str("component", "relay").Logger(),
		factory:    factory,
		qrOut:      os.Stdout,
		backoff:    newReconnectBackoff(cfg.Reconnect),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Start starts the status server and the first session. Both stop when ctx
// is cancelled or Stop is called.
func (rc *RelayConnector) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	addr := rc.Config.HTTP.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	rc.server = &http.Server{
		Addr:         addr,
		Handler:      rc.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		rc.log.Info().Str("addr", addr).Msg("Starting status server")
		if err := rc.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rc.log.Err(err).Msg("Status server error")
		}
	}()
	context.AfterFunc(ctx, rc.cancelBase)

	rc.startRelay()
	return nil
}

// Stop tears down the current session and shuts the status server down.
func (rc *RelayConnector) Stop(ctx context.Context) error {
	rc.mu.Lock()
	rc.stopped = true
	rc.teardownLocked()
	rc.mu.Unlock()
	rc.cancelBase()

	if rc.server == nil {
		return nil
	}
	if err := rc.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	rc.log.Info().Msg("Status server stopped")
	return nil
}
