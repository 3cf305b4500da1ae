package portal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	defaultHTTPReadTimeout  = 15 * time.Second
	defaultHTTPWriteTimeout = 15 * time.Second
	defaultHTTPIdleTimeout  = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Run serves the portal on address until ctx is cancelled or the server
// fails. An empty address falls back to the configured HTTP port.
func (s *Service) Run(ctx context.Context, address string) error {
	if s.handler == nil {
		return ErrServiceNotBuilt
	}
	if address == "" {
		address = s.cfg.HTTPPort()
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	if s.handler == nil {
		return ErrServiceNotBuilt
	}

	s.stopMutex.Lock()
	s.server = &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}
	server := s.server
	s.stopMutex.Unlock()

	go s.visitors.Run(ctx)

	go func() {
		s.Log(ctx).WithField("address", listener.Addr().String()).Info("portal listening")
		srvErr := server.Serve(listener)
		if errors.Is(srvErr, http.ErrServerClosed) {
			srvErr = nil
		}
		s.sendStopError(ctx, srvErr)
	}()

	select {
	case <-ctx.Done():
		s.Stop(context.WithoutCancel(ctx))
		return ctx.Err()
	case err := <-s.errorChannel:
		if err != nil {
			s.Log(ctx).WithError(err).Error("system exit in error")
		} else {
			s.Log(ctx).Debug("system exit")
		}
		s.Stop(context.WithoutCancel(ctx))
		return err
	}
}

// Stop drains in-flight requests, then runs the cleanup methods. Only the
// first call does anything.
func (s *Service) Stop(ctx context.Context) {
	if !s.stopMutex.TryLock() {
		return
	}
	defer s.stopMutex.Unlock()

	if s.cleanup == nil && s.server == nil {
		return
	}

	s.Log(ctx).Info("service stopping")

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.Log(ctx).WithError(err).Warn("http server did not drain in time")
		}
		cancel()
		s.server = nil
	}

	if s.cleanup != nil {
		s.cleanup(ctx)
		s.cleanup = nil
	}
}

func (s *Service) sendStopError(ctx context.Context, err error) {
	s.errorChannelMutex.Lock()
	defer s.errorChannelMutex.Unlock()

	select {
	case <-ctx.Done():
	case s.errorChannel <- err:
	default:
	}
}
