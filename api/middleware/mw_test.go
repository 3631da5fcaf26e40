package middleware

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zktools/zk-tools/internal/authn"
)

func newSigner(t *testing.T) *authn.Signer {
	signer, err := authn.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)
	return signer
}

func TestSessions_IssuesAnonymousSession(t *testing.T) {
	signer := newSigner(t)

	var got authn.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = ClaimsFromContext(r.Context())
		assert.True(t, ok)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	Sessions(signer, time.Hour)(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, got.SessionID())
	assert.False(t, got.Authenticated)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessions_KeepsValidCookie(t *testing.T) {
	signer := newSigner(t)
	token, claims, err := signer.Issue("", "alice", true, true)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := ClaimsFromContext(r.Context())
		assert.Equal(t, claims.SessionID(), got.SessionID())
		assert.Equal(t, "alice", got.Operator)
		assert.True(t, got.Admin)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	w := httptest.NewRecorder()
	Sessions(signer, time.Hour)(next).ServeHTTP(w, req)

	assert.Empty(t, w.Result().Cookies(), "a valid cookie is not reissued")
}

func TestSessions_ReplacesForgedCookie(t *testing.T) {
	signer := newSigner(t)
	other, err := authn.NewSigner("another-secret", time.Hour)
	require.NoError(t, err)
	forged, _, err := other.Issue("", "mallory", true, true)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := ClaimsFromContext(r.Context())
		assert.False(t, got.Authenticated)
		assert.Empty(t, got.Operator)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: forged})
	w := httptest.NewRecorder()
	Sessions(signer, time.Hour)(next).ServeHTTP(w, req)

	assert.Len(t, w.Result().Cookies(), 1)
}

func TestRequireLogin(t *testing.T) {
	signer := newSigner(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(enabled bool, path string, cookie string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookie})
		}
		w := httptest.NewRecorder()
		Sessions(signer, time.Hour)(RequireLogin(enabled)(ok)).ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, serve(false, "/", "").Code)

	w := serve(true, "/?terminal=10.0.0.1", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/auth/login?next=%2F%3Fterminal%3D10.0.0.1", w.Header().Get("Location"))

	assert.Equal(t, http.StatusUnauthorized, serve(true, "/api/terminals", "").Code)

	token, _, err := signer.Issue("", "bob", false, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, serve(true, "/", token).Code)
}

func TestRequireAdmin(t *testing.T) {
	signer := newSigner(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tc := range []struct {
		admin bool
		want  int
	}{
		{admin: false, want: http.StatusForbidden},
		{admin: true, want: http.StatusOK},
	} {
		token, _, err := signer.Issue("", "op", tc.admin, true)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/auth/operators", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		w := httptest.NewRecorder()
		Sessions(signer, time.Hour)(RequireAdmin(ok)).ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code)
	}
}

func TestIPKeyExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	assert.Equal(t, "192.0.2.7", IPKeyExtractor(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.7", IPKeyExtractor(req), "forwarding headers are ignored")
}

func TestProxyAwareKeyExtractor(t *testing.T) {
	extract := ProxyAwareKeyExtractor([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", extract(req), "untrusted peer")

	req.RemoteAddr = "10.0.0.2:40000"
	assert.Equal(t, "203.0.113.9", extract(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.66, 203.0.113.9, 10.0.0.3")
	assert.Equal(t, "203.0.113.9", extract(req), "rightmost untrusted hop")

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", extract(req))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "10.0.0.2", extract(req))
}

func TestProxyAwareKeyExtractorWithoutProxies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", ProxyAwareKeyExtractor(nil)(req))
}

func TestRateLimitIgnoresSpoofedHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(5, time.Minute, ProxyAwareKeyExtractor([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.1/32"),
	}))(ok)

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(2, time.Minute, IPKeyExtractor)(ok)

	post := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post("192.0.2.1:1000"))
	assert.Equal(t, http.StatusOK, post("192.0.2.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, post("192.0.2.1:1002"))
	assert.Equal(t, http.StatusOK, post("192.0.2.2:1000"), "other clients keep their budget")

	// GET requests are never limited.
	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:1003"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
