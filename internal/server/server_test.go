package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hidrolabs/aquarelay/internal/auth/jwt"
	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	"github.com/hidrolabs/aquarelay/internal/i18n"
	"github.com/hidrolabs/aquarelay/internal/ingress"
	"github.com/hidrolabs/aquarelay/internal/notify"
	"github.com/hidrolabs/aquarelay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, conversation.Store) {
	t.Helper()
	logger := zap.NewNop()

	store := conversation.NewMemoryStore(logger, 20)
	translator := i18n.New(cnst.LangES)
	translator.MustAddMessages(cnst.LangES, i18n.DefaultMessages(cnst.LangES)...)

	queue := ingress.NewQueue(logger, 8, 1, func(_ context.Context, _ *ingress.Event) error { return nil })
	queue.Start()
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })

	registry := notify.NewRegistry(logger, 8)
	broadcaster := notify.NewBroadcaster(logger, registry)
	jwtService, err := jwt.NewService(jwt.Config{SecretKey: "0123456789abcdef0123456789abcdef", Duration: time.Hour})
	require.NoError(t, err)

	m := metrics.New(config.MetricsConfig{Namespace: "aquarelay"})

	s := NewServer(logger, &config.ServerConfig{Port: 0, Mode: gin.TestMode}, store, translator, Handlers{
		Chat:         ingress.NewHandler(logger, queue),
		Notification: notify.NewWebhookHandler(logger, broadcaster),
		Stream:       notify.NewStreamHandler(logger, registry, jwtService, time.Minute),
	}, m)
	return s, store
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/health_check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "version").String())
}

func TestGetSessionNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/api/sessions/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionInvalidID(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/sessions/abc", "/api/sessions/-1"} {
		w := do(s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestGetSessionReturnsHistoryTail(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, 42, "contact-1")
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, store.Append(ctx, 42, conversation.Message{
			Role:    cnst.RoleUser,
			Content: fmt.Sprintf("m%d", i),
		}))
	}

	w := do(s, http.MethodGet, "/api/sessions/42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Equal(t, sess.SessionID, gjson.Get(body, "session.session_id").String())
	assert.Equal(t, int64(15), gjson.Get(body, "messageCount").Int())

	history := gjson.Get(body, "history").Array()
	require.Len(t, history, 10)
	assert.Equal(t, "m5", history[0].Get("content").String())
	assert.Equal(t, "m14", history[9].Get("content").String())
}

func TestGetSessionShortHistory(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 7, "contact-1")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, 7, conversation.Message{Role: cnst.RoleUser, Content: "Hola"}))

	w := do(s, http.MethodGet, "/api/sessions/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "messageCount").Int())
	assert.Len(t, gjson.Get(w.Body.String(), "history").Array(), 1)
}

func TestDeleteSessionAlwaysSucceeds(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 42, "contact-1")
	require.NoError(t, err)

	w := do(s, http.MethodDelete, "/api/sessions/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "success").Bool())

	// the session is gone
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/sessions/42", nil).Code)

	// deleting a session that never existed is still a success
	w = do(s, http.MethodDelete, "/api/sessions/99", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/webhook/chat", []byte(`{"event":"conversation_created","id":1}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "success").Bool())

	w = do(s, http.MethodPost, "/webhook/notification", []byte(`{"notification":{"message":"x"}}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "broadcast").Bool())
}

func TestStreamRouteRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/notifications/stream", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	do(s, http.MethodGet, "/health_check", nil)
	w := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aquarelay_http_requests_total")
}

func TestRecoveryMiddleware(t *testing.T) {
	s, _ := newTestServer(t)
	s.Router().GET("/boom", func(_ *gin.Context) { panic("kaput") })

	w := do(s, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	// shutdown before start is a no-op
	var idle Server
	assert.NoError(t, idle.Shutdown(ctx))
}
