// Package server ties the pieces together: it accepts connections, wraps
// each one in a pipeline stage, and serves the application handler over the
// stages with per-request registry bookkeeping. It also exposes the
// read-only administrative API over the connection registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/SJJC-Team/whooshing-vapor/internal/config"
	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
	"github.com/SJJC-Team/whooshing-vapor/internal/pipeline"
	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
	"github.com/SJJC-Team/whooshing-vapor/internal/transform"
	"github.com/SJJC-Team/whooshing-vapor/internal/util"
)

// connIDKey is the context key under which a request's connection handle is
// stored.
type connIDKey struct{}

// ConnIDFromContext extracts the pipeline connection handle from a request
// context. The second return is false for requests not served over a
// pipeline stage (the admin listener, tests using httptest).
func ConnIDFromContext(ctx context.Context) (registry.ConnID, bool) {
	id, ok := ctx.Value(connIDKey{}).(registry.ConnID)
	return id, ok
}

// Server manages the main and admin listeners and their lifecycles.
type Server struct {
	cfg *config.Config
	log *logger.Logger
	reg *registry.Registry
	tr  transform.Transformer

	httpSrv  *http.Server
	adminSrv *http.Server

	mu        sync.Mutex
	mainLn    net.Listener
	adminLn   net.Listener
	started   bool
	serveErrs chan error
}

// NewServer creates a Server. A nil transformer serves pure-passthrough
// connections. The handler is the application; the server wraps it with
// request-id and upgrade bookkeeping middleware.
func NewServer(cfg *config.Config, lg *logger.Logger, reg *registry.Registry, tr transform.Transformer, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s := &Server{
		cfg:       cfg,
		log:       lg,
		reg:       reg,
		tr:        tr,
		serveErrs: make(chan error, 2),
	}

	s.httpSrv = &http.Server{
		Handler: s.withMiddleware(handler),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if st, ok := c.(*pipeline.Stage); ok {
				return context.WithValue(ctx, connIDKey{}, st.ID())
			}
			return ctx
		},
	}
	s.adminSrv = &http.Server{Handler: s.adminHandler()}

	return s, nil
}

// Start binds the listeners and begins serving. It does not block; use
// Wait to observe serve errors and Shutdown to stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}

	ln, err := util.CreateListener("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("main listener: %w", err)
	}
	s.mainLn = ln
	staged := pipeline.NewListener(ln, s.reg, s.tr, s.log)

	go func() {
		err := s.httpSrv.Serve(staged)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErrs <- fmt.Errorf("main server: %w", err)
			return
		}
		s.serveErrs <- nil
	}()
	s.log.Info("server listening", logger.LogFields{
		"address":     ln.Addr().String(),
		"passthrough": s.tr == nil,
	})

	if s.cfg.Admin.Enabled != nil && *s.cfg.Admin.Enabled {
		adminLn, err := util.CreateListener("tcp", s.cfg.Admin.Address)
		if err != nil {
			ln.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
		s.adminLn = adminLn
		go func() {
			err := s.adminSrv.Serve(adminLn)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.serveErrs <- fmt.Errorf("admin server: %w", err)
				return
			}
			s.serveErrs <- nil
		}()
		s.log.Info("admin API listening", logger.LogFields{
			"address": adminLn.Addr().String(),
		})
	}

	s.started = true
	return nil
}

// Wait blocks until a serve loop exits, returning its error. A graceful
// Shutdown surfaces as nil.
func (s *Server) Wait() error {
	return <-s.serveErrs
}

// Shutdown stops accepting, drains in-flight requests within the
// configured graceful timeout, and closes the listeners.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulShutdownTimeoutDuration())
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.adminLn != nil {
		if err := s.adminSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.log.Info("server shut down", logger.LogFields{
		"live_connections": s.reg.Len(),
	})
	return firstErr
}

// Addr returns the bound address of the main listener, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mainLn == nil {
		return nil
	}
	return s.mainLn.Addr()
}

// AdminAddr returns the bound address of the admin listener, or nil when
// the admin API is disabled or the server has not started.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}
