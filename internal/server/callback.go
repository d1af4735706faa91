package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/shared"
	"golang.org/x/oauth2"
)

// CallbackServer is a short-lived local listener that receives a single OAuth callback.
type CallbackServer struct {
	handler  *OAuthHandler
	server   *http.Server
	listener net.Listener
	logger   *log.Logger
	errs     chan error
}

// NewCallbackServer registers handler on a [BasicRouter] with request logging and panic recovery.
func NewCallbackServer(handler *OAuthHandler, logger *log.Logger) *CallbackServer {
	if logger == nil {
		logger = log.Default()
	}

	router := NewBasicRouter()
	router.Use(Recoverer(logger), Logging(logger))
	router.Handler(handler)

	return &CallbackServer{
		handler: handler,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		errs:   make(chan error, 1),
	}
}

// Start binds addr and serves in the background. Port 0 picks a free port.
func (s *CallbackServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go func() {
		s.logger.Debug("oauth callback server listening", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the callback delivers a token, the server fails, timeout elapses or ctx ends.
// The server is shut down before returning.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (*oauth2.Token, error) {
	defer s.Shutdown()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result OAuthResult
	select {
	case result = <-s.handler.Result():
	case err := <-s.errs:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *CallbackServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("error shutting down server", "error", err)
	}
}

// CallbackAddress splits a redirect URI into the listen address and callback path.
//
// The redirect URI must point at the loopback interface.
func CallbackAddress(redirectURI string) (addr, path string, err error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("%w: redirect uri: %v", shared.ErrInvalidConfig, err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("%w: redirect uri must use http, got %q", shared.ErrInvalidConfig, u.Scheme)
	}

	host := u.Hostname()
	if host != "localhost" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			return "", "", fmt.Errorf("%w: redirect uri must be a loopback address, got %q", shared.ErrInvalidConfig, host)
		}
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}

	path = u.Path
	if path == "" {
		path = "/"
	}
	return net.JoinHostPort(host, port), path, nil
}
