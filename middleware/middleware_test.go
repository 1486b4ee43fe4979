package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func noopHandle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

func TestAllowCORSWithAllowlist(t *testing.T) {
	handler := AllowCORS([]string{"https://studio.example.com"})(noopHandle)

	req := httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	rr := httptest.NewRecorder()
	handler(rr, req, nil)
	require.Equal(t, "https://studio.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler(rr, req, nil)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowCORSOpenByDefault(t *testing.T) {
	handler := AllowCORS(nil)(noopHandle)
	req := httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rr := httptest.NewRecorder()
	handler(rr, req, nil)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsAuthorized(t *testing.T) {
	called := false
	handler := IsAuthorized("secret", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	rr := httptest.NewRecorder()
	handler(rr, req, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handler(rr, req, nil)
	require.True(t, called)
}

func TestLogRequestRecoversPanics(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("handler exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/x", nil)
	rr := httptest.NewRecorder()
	require.NotPanics(t, func() { handler(rr, req, nil) })
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
