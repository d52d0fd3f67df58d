package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportConfig selects how the server is reachable.
type TransportConfig struct {
	Transport string // stdio or http
	Bind      string
	Port      int
	AuthToken string
}

// Serve runs the server until ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, cfg TransportConfig) error {
	switch strings.ToLower(cfg.Transport) {
	case "", "stdio":
		s.logger.Info().Msg("mcp server listening on stdio")
		return s.mcp.Run(ctx, &mcp.StdioTransport{})
	case "http":
		return s.serveHTTP(ctx, cfg)
	default:
		return fmt.Errorf("unknown mcp transport %q", cfg.Transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, cfg TransportConfig) error {
	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("mcp server listening on streamable http")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// HTTPHandler serves the streamable HTTP transport, requiring a bearer token
// when token is non-empty.
func (s *Server) HTTPHandler(token string) http.Handler {
	h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	return bearerAuth(token, h)
}

func bearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
