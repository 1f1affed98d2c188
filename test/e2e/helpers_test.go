package e2e_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/gallery-sync/internal/auth"
	"github.com/alexjbarnes/gallery-sync/internal/client"
	"github.com/alexjbarnes/gallery-sync/internal/events"
	"github.com/alexjbarnes/gallery-sync/internal/library"
	"github.com/alexjbarnes/gallery-sync/internal/mcpserver"
	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/server"
	"github.com/alexjbarnes/gallery-sync/internal/state"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

const (
	testUsername = "testuser"
	testPassword = "testpass"
)

// harness holds the full e2e stack: a real HTTP server over a temp
// gallery root with basic auth, the event hub and MCP tools.
type harness struct {
	URL  string
	Root string
	Lib  *library.Library
}

// newHarness seeds a gallery root, wires the server the way the daemon
// does via server.NewMux and starts an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	writeImage(t, root, "a.png", time.Now().Add(-time.Hour))
	writeImage(t, root, "2024/b.jpg", time.Now().Add(-2*time.Hour))

	logger := slog.New(slog.DiscardHandler)

	hub := events.NewHub()

	lib, err := library.New(root, "output", hub, logger)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "gallery-sync-mcp", Version: "test"}, nil)
	mcpserver.RegisterTools(mcpServer, lib)

	handler := server.NewMux(server.MuxConfig{
		Library: lib,
		Hub:     hub,
		Users:   auth.UserCredentials{testUsername: string(hash)},
		Logger:  logger,
		MCPHandler: mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, nil),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &harness{URL: srv.URL, Root: root, Lib: lib}
}

// writeImage writes a file under root with the given modification time.
func writeImage(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("image "+rel), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

// client returns a gallery client with the given password and quick
// retries.
func (h *harness) client(password string) *client.Client {
	return client.New(h.URL, client.Options{
		Username:     testUsername,
		Password:     password,
		RetryMax:     1,
		RetryWaitMin: 10 * time.Millisecond,
		RetryWaitMax: 20 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))
}

// liveGallery runs a gallery widget fed by the event stream until the
// test ends. Its surface may be read from the test goroutine.
func (h *harness) liveGallery(t *testing.T) *render.MemorySurface {
	t.Helper()

	prefs, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	c := h.client(testPassword)
	surface := render.NewMemorySurface()
	g := widget.New(surface, prefs, c, widget.Options{BaseURL: c.BaseURL()}, slog.New(slog.DiscardHandler))
	g.Open()

	ctx, cancel := context.WithCancel(context.Background())
	evs := make(chan models.Event, 16)
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		defer close(evs)

		_ = c.NewStream().Listen(ctx, evs)
	}()

	go func() {
		defer func() { done <- struct{}{} }()

		if err := g.Run(ctx, evs); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("gallery run: %v", err)
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		prefs.Close()
	})

	return surface
}

// names returns the record names a surface shows, in order.
func names(surface *render.MemorySurface) []string {
	var out []string
	for _, c := range surface.Records() {
		out = append(out, c.Record.Name)
	}

	return out
}

// basicAuthTransport adds basic auth to every request.
type basicAuthTransport struct {
	base http.RoundTripper
}

func (b *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(testUsername, testPassword)

	return b.base.RoundTrip(req)
}

func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &basicAuthTransport{base: http.DefaultTransport},
		},
		DisableStandaloneSSE: true,
	}

	c := mcp.NewClient(&mcp.Implementation{Name: "e2e-test-client", Version: "test"}, nil)

	session, err := c.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	return tc.Text
}
