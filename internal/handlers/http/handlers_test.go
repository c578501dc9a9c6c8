package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/internal/core/services"
	"facestream/internal/infrastructure/middleware"
	"facestream/internal/infrastructure/monitoring"
	"facestream/internal/infrastructure/repositories/memory"
	"facestream/internal/infrastructure/signal"
	"facestream/internal/infrastructure/streaming"
	"facestream/pkg/logger"
	"facestream/pkg/password"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	unknownCamera = 99
	brokenCamera  = 13
)

// countingSource ticks out numbered frames and counts pipeline opens.
type countingSource struct {
	opens    atomic.Int32
	interval time.Duration
}

func (s *countingSource) Open(ctx context.Context, id domain.CameraID) (ports.FrameStream, error) {
	switch id {
	case unknownCamera:
		return nil, fmt.Errorf("%w: %d", domain.ErrCameraNotFound, id)
	case brokenCamera:
		return nil, errors.New("camera offline")
	}
	s.opens.Add(1)
	return &tickStream{ticker: time.NewTicker(s.interval)}, nil
}

type tickStream struct {
	ticker *time.Ticker
	n      int
}

func (st *tickStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-st.ticker.C:
	}
	st.n++
	return []byte("jpeg-" + strconv.Itoa(st.n)), nil
}

func (st *tickStream) Close() error {
	st.ticker.Stop()
	return nil
}

func frameSeq(t *testing.T, data []byte) int {
	t.Helper()
	n, err := strconv.Atoi(strings.TrimPrefix(string(data), "jpeg-"))
	require.NoError(t, err, string(data))
	return n
}

type testEnv struct {
	router   *gin.Engine
	creds    ports.CredentialService
	source   *countingSource
	registry *services.PipelineRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	zl := zaptest.NewLogger(t)
	log := zl.Sugar()

	hash := func(p string) string {
		h, err := password.Hash(p)
		require.NoError(t, err)
		return h
	}
	store := memory.NewMemoryUserStore(
		domain.Account{Username: "alice", PasswordHash: hash("wonderland"), Role: domain.RoleUser, Status: domain.StatusActive},
		domain.Account{Username: "root", PasswordHash: hash("toor"), Role: domain.RoleAdmin, Status: domain.StatusActive},
		domain.Account{Username: "mallory", PasswordHash: hash("secret"), Role: domain.RoleUser, Status: domain.StatusSuspended},
	)

	creds := services.NewCredentialService("handler-test-secret")
	gate := services.NewAccessGate(creds, store, nil, time.Hour, log)
	source := &countingSource{interval: 5 * time.Millisecond}
	registry := services.NewPipelineRegistry(source, services.RegistryConfig{}, nil, nil, "test", log)
	t.Cleanup(registry.Close)

	wsCfg := signal.DefaultConfig()
	wsCfg.AllowedOrigins = []string{"*"}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware(), middleware.ErrorHandlerMiddleware(log))
	NewAuthHandler(gate, nil).SetupRoutes(router)
	NewStreamHandler(gate, registry, nil, nil,
		signal.NewWebSocketServer(wsCfg, log), nil,
		StreamHandlerConfig{}, logger.NewContextLogger(zl),
	).SetupRoutes(router)
	NewHealthHandler(monitoring.NewHealthChecker(), prometheus.NewRegistry()).SetupRoutes(router)

	return &testEnv{router: router, creds: creds, source: source, registry: registry}
}

func (e *testEnv) token(t *testing.T, sub string, role domain.Role) string {
	t.Helper()
	token, err := e.creds.Issue(sub, role, domain.StatusActive, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(username, pass string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {pass}}
	return e.do(http.MethodPost, "/auth/login/", "", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestLogin_IssuesBearerToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.login("alice", "wonderland")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "bearer", body["token_type"])

	cred, err := env.creds.Verify(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Subject)
	assert.Equal(t, domain.RoleUser, cred.Role)
}

func TestLogin_AcceptsJSON(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/auth/login/", "",
		strings.NewReader(`{"username":"root","password":"toor"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["access_token"])
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)

	wrongPassword := env.login("alice", "nope")
	unknownUser := env.login("nobody", "wonderland")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, "Incorrect username or password", decode(t, wrongPassword)["message"])

	suspended := env.login("mallory", "secret")
	assert.Equal(t, http.StatusForbidden, suspended.Code)

	suspendedWrong := env.login("mallory", "guess")
	assert.Equal(t, http.StatusUnauthorized, suspendedWrong.Code, "status is only revealed to holders of the password")

	for name, w := range map[string]*httptest.ResponseRecorder{
		"missing password":   env.login("alice", ""),
		"missing username":   env.login("", "wonderland"),
		"oversized username": env.login(strings.Repeat("a", 300), "wonderland"),
	} {
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		assert.Equal(t, wrongPassword.Body.String(), w.Body.String(), name)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"), name)
	}

	malformed := env.do(http.MethodPost, "/auth/login/", "", strings.NewReader(`{"username":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
}

func TestSecure(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/auth/secure/", env.token(t, "alice", domain.RoleUser), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello alice, you accessed a protected endpoint", decode(t, w)["message"])

	noToken := env.do(http.MethodGet, "/auth/secure/", "", nil, "")
	badToken := env.do(http.MethodGet, "/auth/secure/", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, noToken.Code)
	assert.Equal(t, http.StatusUnauthorized, badToken.Code)
	assert.Equal(t, noToken.Body.String(), badToken.Body.String())
	assert.Equal(t, "Bearer", noToken.Header().Get("WWW-Authenticate"))
}

func TestRoleProtected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/auth/role-protected/", env.token(t, "root", domain.RoleAdmin), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Admin endpoint accessed by root", decode(t, w)["message"])

	w = env.do(http.MethodGet, "/auth/role-protected/", env.token(t, "alice", domain.RoleUser), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Admin privileges required", decode(t, w)["message"])
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Face Tracking System API Running", decode(t, w)["message"])

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", "", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/metrics", "", nil, "").Code)
}

func TestStream_RejectsBeforeStreaming(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice", domain.RoleUser)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no credential", "/stream/1", "", http.StatusUnauthorized},
		{"bad camera id", "/stream/front-door", token, http.StatusBadRequest},
		{"negative camera id", "/stream/-1", token, http.StatusBadRequest},
		{"unknown camera", "/stream/" + strconv.Itoa(unknownCamera), token, http.StatusNotFound},
		{"source cannot open", "/stream/" + strconv.Itoa(brokenCamera), token, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.path, tt.token, nil, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		})
	}
	assert.Equal(t, int32(0), env.source.opens.Load())
}

func openStream(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp
}

func TestStream_MultipartFraming(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp := openStream(t, srv, "/stream/1", env.token(t, "alice", domain.RoleUser))
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")

	r := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return line
	}

	last := 0
	for i := 0; i < 3; i++ {
		assert.Equal(t, "--frame\r\n", readLine())
		assert.Equal(t, "Content-Type: image/jpeg\r\n", readLine())
		lengthLine := readLine()
		require.True(t, strings.HasPrefix(lengthLine, "Content-Length: "), lengthLine)
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(lengthLine, "Content-Length: "), "\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "\r\n", readLine())

		data := make([]byte, n+2)
		_, err = io.ReadFull(r, data)
		require.NoError(t, err)
		seq := frameSeq(t, data[:n])
		assert.Greater(t, seq, last, "frames arrive in order")
		last = seq
		assert.Equal(t, "\r\n", string(data[n:]))
	}
}

func TestStream_ViewersShareOnePipeline(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	token := env.token(t, "alice", domain.RoleUser)
	first := openStream(t, srv, "/stream/1", token)
	second := openStream(t, srv, "/stream/1", token)

	for _, resp := range []*http.Response{first, second} {
		reader, err := streaming.NewMultipartReader(resp.Body, resp.Header.Get("Content-Type"), 0)
		require.NoError(t, err)
		data, err := reader.NextFrame()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "jpeg-"))
	}

	assert.Equal(t, int32(1), env.source.opens.Load())
	cameras := env.registry.Cameras()
	require.Len(t, cameras, 1)
	assert.Equal(t, 2, cameras[0].Viewers)

	first.Body.Close()
	assert.Eventually(t, func() bool {
		cameras := env.registry.Cameras()
		return len(cameras) == 1 && cameras[0].Viewers == 1
	}, 2*time.Second, 10*time.Millisecond, "a departed viewer is released while the other keeps streaming")

	reader, err := streaming.NewMultipartReader(second.Body, second.Header.Get("Content-Type"), 0)
	require.NoError(t, err)
	_, err = reader.NextFrame()
	assert.NoError(t, err)

	second.Body.Close()
	assert.Eventually(t, func() bool {
		cameras := env.registry.Cameras()
		return len(cameras) == 1 && cameras[0].Viewers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_AdminListAndTeardown(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	admin := env.token(t, "root", domain.RoleAdmin)
	user := env.token(t, "alice", domain.RoleUser)

	resp := openStream(t, srv, "/stream/3", user)
	defer resp.Body.Close()
	reader, err := streaming.NewMultipartReader(resp.Body, resp.Header.Get("Content-Type"), 0)
	require.NoError(t, err)
	_, err = reader.NextFrame()
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/stream/", user, nil, "").Code)

	w := env.do(http.MethodGet, "/stream/", admin, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Cameras []domain.CameraStatus `json:"cameras"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Cameras, 1)
	assert.Equal(t, domain.CameraID(3), list.Cameras[0].CameraID)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, "/stream/3", user, nil, "").Code)

	w = env.do(http.MethodDelete, "/stream/3", admin, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", decode(t, w)["status"])

	// The viewer's response ends once its pipeline is gone.
	for {
		if _, err := reader.NextFrame(); err != nil {
			break
		}
	}
	assert.Empty(t, env.registry.Cameras())

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/stream/3", admin, nil, "").Code)
}

func TestStreamWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream/2"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+env.token(t, "alice", domain.RoleUser), nil)
	require.NoError(t, err)

	last := 0
	for i := 0; i < 3; i++ {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, msgType)
		seq := frameSeq(t, data)
		assert.Greater(t, seq, last)
		last = seq
	}
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		cameras := env.registry.Cameras()
		return len(cameras) == 1 && cameras[0].Viewers == 0
	}, 2*time.Second, 10*time.Millisecond)
}
