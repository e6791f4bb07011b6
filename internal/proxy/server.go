// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/interceptor"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server runs the interceptor lifecycle and then serves Handler.
type Server struct {
	Addr      string
	IC        *interceptor.Interceptor
	Transport http.RoundTripper

	// Ready, if set, receives the bound address once the listener is open.
	Ready func(addr string)
}

// ListenAndServe installs and activates the interceptor, then serves until ctx
// ends. On cancellation in-flight requests are drained before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.IC == nil {
		return errors.New("proxy server has no interceptor")
	}

	if err := s.IC.Start(ctx); err != nil {
		return fmt.Errorf("start interceptor: %w", err)
	}
	log.Infof("interceptor %s", s.IC.State())

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}

	srv := &http.Server{
		Handler:           NewHandler(s.IC.Config().Origin, s.IC, s.Transport),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	if s.Ready != nil {
		s.Ready(ln.Addr().String())
	}
	log.Infof("serving %s on %s", s.IC.Config().Origin, ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
