package roomchat

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	httptest2 "github.com/getlantern/httptest"
)

// syncBuffer is a goroutine safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCoordinator_HandleSocket(t *testing.T) {
	t.Run("should reject a request the resolver refuses", func(t *testing.T) {
		c, _ := setupTestCoordinator(t)
		testW := httptest.NewRecorder()
		testR := httptest.NewRequest("GET", "/ws", nil)

		resolver := IdentityResolverFunc(func(r *http.Request) (Identity, error) {
			return Identity{}, errors.New("token expired")
		})

		var httpErr error
		c.HandleSocket(resolver, func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})(testW, testR)

		if testW.Result().StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected status code to be %d, got %d", http.StatusUnauthorized, testW.Result().StatusCode)
		}
		if !errors.Is(httpErr, ErrAuthRejected) {
			t.Fatalf("expected ErrAuthRejected, got %v", httpErr)
		}
		if len(c.Presence.All()) != 0 {
			t.Fatalf("expected no connections, got %d", len(c.Presence.All()))
		}
	})

	t.Run("should reject an incomplete identity", func(t *testing.T) {
		c, _ := setupTestCoordinator(t)
		testW := httptest.NewRecorder()
		testR := httptest.NewRequest("GET", "/ws", nil)

		resolver := IdentityResolverFunc(func(r *http.Request) (Identity, error) {
			return Identity{ID: "u1"}, nil
		})

		var httpErr error
		c.HandleSocket(resolver, func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})(testW, testR)

		if !errors.Is(httpErr, ErrAuthRejected) {
			t.Fatalf("expected ErrAuthRejected, got %v", httpErr)
		}
	})

	t.Run("should fail the upgrade of a plain request", func(t *testing.T) {
		c, _ := setupTestCoordinator(t)
		testW := httptest.NewRecorder()
		testR := httptest.NewRequest("GET", "/ws", nil)

		var httpErr error
		c.HandleSocketWithIdentity(Identity{ID: "u1", DisplayName: "alice"}, func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
		})(testW, testR)

		if httpErr == nil {
			t.Fatal("expected an upgrade error")
		}
		if len(c.Presence.All()) != 0 {
			t.Fatalf("expected no connections, got %d", len(c.Presence.All()))
		}
	})

	t.Run("should upgrade and admit the connection", func(t *testing.T) {
		testW := httptest2.NewRecorder(nil)
		testR := httptest.NewRequest("GET", "/ws", nil)
		testR.Header.Set("Upgrade", "websocket")
		testR.Header.Set("Connection", "Upgrade")
		testR.Header.Set("Sec-WebSocket-Version", "13")

		key, err := generateChallengeKey()
		if err != nil {
			t.Fatal(err)
		}
		testR.Header.Set("Sec-WebSocket-Key", key)

		var logs syncBuffer
		c := NewCoordinator(context.Background(), newFakeStore(), Options{
			Slogger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		})
		defer c.Stop()

		resolver := IdentityResolverFunc(func(r *http.Request) (Identity, error) {
			return Identity{ID: "u1", DisplayName: "alice"}, nil
		})

		var httpErr error
		c.HandleSocket(resolver, func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
			t.Log(err)
			http.Error(w, "error", http.StatusInternalServerError)
		})(testW, testR)

		resp := testW.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status code to be %d, got %d", http.StatusOK, resp.StatusCode)
		}
		if httpErr != nil {
			t.Fatalf("expected http errors to be nil, got %s", httpErr.Error())
		}
		if !strings.Contains(logs.String(), "connection opened") {
			t.Fatalf("expected the connection to be admitted, logs: %s", logs.String())
		}
	})
}

func generateChallengeKey() (string, error) {
	p := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p), nil
}
