package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/store"
)

// NewServer builds the *http.Server for the document-store HTTP Surface:
// a ServeMux with the documents routes registered behind the default
// middleware chain plus ShutdownMiddleware, configured from cfg.
func NewServer(cfg config.HTTPConfig, opener CollectionOpener, shutdown *store.ShutdownManager) *http.Server {
	handler := NewDocumentsHandler(opener)
	mux := http.NewServeMux()
	handler.Register(mux)

	chain := ChainMiddleware(
		ShutdownMiddleware(shutdown),
		RecoveryMiddleware,
		RequestIDMiddleware,
		CorrelationIDMiddleware,
		ContentTypeMiddleware,
		RequestLogMiddleware,
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      chain(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// GracefulHTTPServer wraps an http.Server with graceful shutdown support,
// adapted from the teacher's server package: the server is registered as
// a closer on shutdown, and ListenAndServe returns once either the server
// fails or shutdown closes it out from under the listener.
type GracefulHTTPServer struct {
	server   *http.Server
	shutdown *store.ShutdownManager
}

// NewGracefulHTTPServer wraps server with shutdown coordination.
func NewGracefulHTTPServer(server *http.Server, shutdown *store.ShutdownManager) *GracefulHTTPServer {
	return &GracefulHTTPServer{server: server, shutdown: shutdown}
}

// ListenAndServe starts the HTTP server and blocks until it stops, either
// because it failed or because shutdown closed it.
func (gs *GracefulHTTPServer) ListenAndServe() error {
	gs.shutdown.RegisterCloser(&httpServerCloser{server: gs.server})

	errCh := make(chan error, 1)
	go func() {
		if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-gs.shutdown.ShutdownCh():
		return <-errCh
	}
}

// httpServerCloser adapts http.Server to io.Closer with a bounded
// graceful-shutdown deadline.
type httpServerCloser struct {
	server *http.Server
}

func (c *httpServerCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// ShutdownMiddleware tracks in-flight requests against shutdown and
// rejects new ones with 503 once shutdown has begun, so the Store is
// never closed out from under a request already being served.
func ShutdownMiddleware(sm *store.ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}
