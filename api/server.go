// Package api is the HTTP front of the agent. It accepts post-receive
// reports from repository hooks and feeds them into the run pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/minicd/minicd/logger"
)

// Pipeline is the part of the runner the HTTP front uses.
type Pipeline interface {
	Run(ctx context.Context, remote, commit, refName string) error
}

type Server struct {
	logger   logger.Logger
	pipeline Pipeline
	httpSvr  *http.Server
}

func NewServer(l logger.Logger, p Pipeline, addr string, port int) *Server {
	s := &Server{
		logger:   l.WithFields(logger.StringField("component", "api")),
		pipeline: p,
	}
	s.httpSvr = &http.Server{
		Addr:    net.JoinHostPort(addr, strconv.Itoa(port)),
		Handler: s.router(),
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSvr.Handler
}

// Run serves until ctx is done, then shuts the server down gracefully
// with a grace period of 10 seconds.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSvr.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpSvr.Addr, err)
	}
	s.logger.Info("Listening on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpSvr.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Server shutdown timed out, forcing close")
			return s.httpSvr.Close()
		}
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("Server shut down cleanly")
	return ctx.Err()
}
