package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duochat/duochat/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_authMiddleware_MissingCookie(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected handler not to run")
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func Test_authMiddleware_InvalidToken(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected handler not to run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "garbage"})

	rr := httptest.NewRecorder()
	handler(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func Test_authMiddleware_ValidToken(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	token, err := app.createJwtForSession(42, time.Hour)
	require.NoError(t, err)

	var gotUserId int
	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		require.True(t, ok, "expected user id on the request context")
		gotUserId = userId
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(createJwtCookie(token, time.Hour))

	rr := httptest.NewRecorder()
	handler(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 42, gotUserId)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
}

func Test_errorHandler_RecoversPanic(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func Test_errorHandler_PassesThrough(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
}
