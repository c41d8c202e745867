package http_server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"floorchat/internal/auth"
	"floorchat/internal/services/chat"
	"floorchat/internal/store"
	"floorchat/internal/store/memstore"
	"floorchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httpServer, *auth.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := memstore.New()
	ms.PutFloor(store.Floor{ID: "F"})
	ms.PutUser(store.User{ID: "u1", Name: "Ana", Role: store.RoleMember})
	ms.Assign("u1", "F")

	issuer := auth.NewIssuer("server-secret-0123456789", time.Minute, time.Hour)
	svc := chat.NewChatService(ms, chat.Options{})
	wsSrv := ws.NewWsServer(ws.NewHub(), svc, issuer, nil)
	return NewHttpServer(context.Background(), 0, wsSrv, svc, issuer), issuer
}

func TestRouter_Routes(t *testing.T) {
	srv, issuer := newTestServer(t)
	r := srv.Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := issuer.IssueSession("u1")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[],"hasMore":false}`, w.Body.String())
}
