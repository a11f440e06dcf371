package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/store"
)

func TestShutdownMiddleware_RejectsRequestsOnceShutdownBegins(t *testing.T) {
	sm := store.NewShutdownManager(store.ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Second})
	wrapped := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	before := httptest.NewRecorder()
	wrapped.ServeHTTP(before, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if before.Code != http.StatusOK {
		t.Fatalf("expected 200 before shutdown, got %d", before.Code)
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("unexpected error shutting down: %v", err)
	}

	after := httptest.NewRecorder()
	wrapped.ServeHTTP(after, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if after.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", after.Code)
	}
}

func TestNewServer_AppliesHTTPConfig(t *testing.T) {
	sm := store.NewShutdownManager(store.DefaultShutdownConfig())
	cfg := config.HTTPConfig{Addr: ":9999", ReadTimeout: 7 * time.Second, WriteTimeout: 9 * time.Second, IdleTimeout: 11 * time.Second}

	srv := NewServer(cfg, fakeOpener{}, sm)
	if srv.Addr != ":9999" {
		t.Fatalf("expected addr :9999, got %s", srv.Addr)
	}
	if srv.ReadTimeout != 7*time.Second || srv.WriteTimeout != 9*time.Second || srv.IdleTimeout != 11*time.Second {
		t.Fatalf("expected configured timeouts to carry through, got %+v", srv)
	}
}

type fakeOpener struct{}

func (fakeOpener) Collection(ctx context.Context, name string) (*collection.Collection, error) {
	return nil, nil
}
