package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUsers(t *testing.T) UserCredentials {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	return UserCredentials{"testuser": string(hash)}
}

// whoami echoes the authenticated user.
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, RequestUserID(r.Context()))
})

func serve(h http.Handler, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/Gallery/images", nil)
	req.RemoteAddr = "192.0.2.1:5000"

	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

// --- Middleware ---

func TestMiddleware_NoUsersPassesThrough(t *testing.T) {
	h := Middleware(nil, testLogger())(whoami)

	rec := serve(h, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_ValidCredentials(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	rec := serve(h, "testuser", "password123")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "testuser", rec.Body.String())
}

func TestMiddleware_MissingCredentials(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	rec := serve(h, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `Basic realm="gallery-sync"`)
}

func TestMiddleware_WrongPassword(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	rec := serve(h, "testuser", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_UnknownUser(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	rec := serve(h, "nobody", "password123")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RateLimited(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	for i := 0; i < maxFailures; i++ {
		assert.Equal(t, http.StatusUnauthorized, serve(h, "testuser", "wrong").Code)
	}

	// Even the right password is refused while limited.
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "testuser", "password123").Code)
}

func TestMiddleware_SuccessResetsFailures(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(whoami)

	for i := 0; i < maxFailures-1; i++ {
		assert.Equal(t, http.StatusUnauthorized, serve(h, "testuser", "wrong").Code)
	}

	assert.Equal(t, http.StatusOK, serve(h, "testuser", "password123").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "testuser", "wrong").Code)
	assert.Equal(t, http.StatusOK, serve(h, "testuser", "password123").Code)
}

// --- failureLimiter ---

func TestFailureLimiter_WindowExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newFailureLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < maxFailures; i++ {
		l.fail("ip")
	}

	assert.True(t, l.blocked("ip"))
	assert.False(t, l.blocked("other"))

	now = now.Add(failureWindow + time.Second)
	assert.False(t, l.blocked("ip"))
	assert.Empty(t, l.misses)
}

func TestFailureLimiter_PrunesManyIPs(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newFailureLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i <= pruneAbove; i++ {
		l.fail(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	now = now.Add(failureWindow + time.Second)
	l.fail("fresh")

	assert.Len(t, l.misses, 1)
	assert.Contains(t, l.misses, "fresh")
}

func TestFailureLimiter_Forget(t *testing.T) {
	l := newFailureLimiter()

	for i := 0; i < maxFailures-1; i++ {
		l.fail("ip")
	}

	l.forget("ip")
	l.fail("ip")

	assert.False(t, l.blocked("ip"))
	assert.Len(t, l.misses["ip"], 1)
}
