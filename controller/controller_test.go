package controller

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"deepchat/model"
	"deepchat/platform"
	"deepchat/service"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

var testDBSeq atomic.Int64

type stubGenerator struct {
	mu      sync.Mutex
	replyFn func(history []platform.Turn) (string, error)
}

func (g *stubGenerator) Complete(ctx context.Context, history []platform.Turn) (string, error) {
	g.mu.Lock()
	fn := g.replyFn
	g.mu.Unlock()
	if fn != nil {
		return fn(history)
	}
	return "ok", nil
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	gen    *stubGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), fmt.Sprintf("api-%d.db", testDBSeq.Add(1)))
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, model.InstallDB(db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gen := &stubGenerator{}
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte(testSigningKey))

	tokens := service.NewTokenService(db, "test-secret")
	users := service.NewUserService(db, tokens)
	chats := service.NewChatService(db, gen, logger, 5)
	identity, err := service.NewIdentitySyncService(db, secret, 300*time.Second, logger)
	require.NoError(t, err)

	auth := NewAuthController(tokens, logger)
	user := NewUserController(users, tokens, logger)
	chat := NewChatController(chats, logger)
	webhook := NewWebhookController(identity, logger)

	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/user/register", user.Register)
		v1.POST("/user/login", user.Login)
		v1.POST("/user/logout", auth.RequireToken(), user.Logout)
		v1.POST("/token/refresh", auth.Refresh)
		v1.POST("/chats", auth.RequireToken(), chat.Create)
		v1.GET("/chats", auth.RequireToken(), chat.List)
		v1.PATCH("/chats/:id", auth.RequireToken(), chat.Rename)
		v1.DELETE("/chats/:id", auth.RequireToken(), chat.Delete)
		v1.POST("/chats/:id/messages", auth.RequireToken(), chat.SendMessage)
		v1.GET("/session", auth.RequireToken(), chat.Session)
		v1.POST("/identity-events", webhook.IdentityEvents)
	}

	return &testEnv{router: r, db: db, gen: gen}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func (e *testEnv) registerAndLogin(t *testing.T, email string) string {
	t.Helper()
	w, _ := e.request(t, http.MethodPost, "/v1/user/register", "", gin.H{
		"name": "Test User", "email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := e.request(t, http.MethodPost, "/v1/user/login", "", gin.H{
		"email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestFullConversationFlow(t *testing.T) {
	env := newTestEnv(t)
	env.gen.replyFn = func([]platform.Turn) (string, error) { return "Hi! How can I help?", nil }
	token := env.registerAndLogin(t, "flow@example.com")

	// the first session gets a fresh conversation
	w, body := env.request(t, http.MethodGet, "/v1/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var session struct {
		Chats        []model.Conversation `json:"chats"`
		ActiveChatID string               `json:"activeChatId"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &session))
	require.Len(t, session.Chats, 1)
	assert.Equal(t, model.DefaultConversationName, session.Chats[0].Name)
	assert.Equal(t, session.Chats[0].ID, session.ActiveChatID)

	w, body = env.request(t, http.MethodPost, "/v1/chats", token, gin.H{"name": "Test"})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &conv))
	assert.Equal(t, "Test", conv.Name)
	assert.NotNil(t, conv.Messages)

	w, body = env.request(t, http.MethodPost, "/v1/chats/"+conv.ID+"/messages", token, gin.H{"prompt": "Hello there"})
	require.Equal(t, http.StatusOK, w.Code)
	var assistant model.Message
	require.NoError(t, json.Unmarshal(body.Data, &assistant))
	assert.Equal(t, model.RoleAssistant, assistant.Role)
	assert.Equal(t, "Hi! How can I help?", assistant.Content)

	w, body = env.request(t, http.MethodGet, "/v1/chats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &listed))
	require.Len(t, listed, 2)
	// newest-updated first
	assert.Equal(t, conv.ID, listed[0].ID)
	require.Len(t, listed[0].Messages, 2)
	assert.Equal(t, "Hello there", listed[0].Messages[0].Content)

	w, _ = env.request(t, http.MethodPatch, "/v1/chats/"+conv.ID, token, gin.H{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.request(t, http.MethodPatch, "/v1/chats/"+conv.ID, token, gin.H{"name": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", body.Error.Kind)

	w, _ = env.request(t, http.MethodDelete, "/v1/chats/"+conv.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.request(t, http.MethodDelete, "/v1/chats/"+conv.ID, token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body.Error.Kind)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.request(t, http.MethodGet, "/v1/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "unauthenticated", body.Error.Kind)
}

func TestOwnershipIsEnforcedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.registerAndLogin(t, "owner@example.com")
	otherToken := env.registerAndLogin(t, "other@example.com")

	w, body := env.request(t, http.MethodPost, "/v1/chats", ownerToken, gin.H{"name": "Private"})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &conv))

	w, body = env.request(t, http.MethodPatch, "/v1/chats/"+conv.ID, otherToken, gin.H{"name": "Hijack"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body.Error.Kind)
}

func TestMalformedConversationID(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "ids@example.com")

	w, body := env.request(t, http.MethodPost, "/v1/chats/not-a-uuid/messages", token, gin.H{"prompt": "Hello there"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_identifier", body.Error.Kind)
}

func TestGenerationFailureSurfacesAsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.gen.replyFn = func([]platform.Turn) (string, error) { return "", errors.New("upstream timeout") }
	token := env.registerAndLogin(t, "fail@example.com")

	w, body := env.request(t, http.MethodPost, "/v1/chats", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &conv))

	w, body = env.request(t, http.MethodPost, "/v1/chats/"+conv.ID+"/messages", token, gin.H{"prompt": "Hello there"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "generation_failed", body.Error.Kind)

	// nothing was persisted for the failed turn
	w, body = env.request(t, http.MethodGet, "/v1/chats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &listed))
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Messages)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "logout@example.com")

	w, _ := env.request(t, http.MethodPost, "/v1/user/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := env.request(t, http.MethodGet, "/v1/chats", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", body.Error.Kind)
}

func signedWebhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningKey))
	fmt.Fprintf(mac, "msg_1.%s.", ts)
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/v1/identity-events", bytes.NewReader(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", ts)
	req.Header.Set("svix-signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func TestWebhookIngress(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"type":"user.created","data":{"email":"hooked@example.com","first_name":"Hook","last_name":"Ed"}}`)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, signedWebhookRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)

	var user model.User
	require.NoError(t, env.db.Where("email = ?", "hooked@example.com").First(&user).Error)
	assert.Equal(t, "Hook Ed", user.Name)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"type":"user.created","data":{"email":"evil@example.com"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/identity-events", bytes.NewReader(payload))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("svix-signature", "v1,bm90LXRoZS1yaWdodC1zaWduYXR1cmU=")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, env.db.Model(&model.User{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookRejectsEventWithoutEmail(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"type":"user.created","data":{"first_name":"No","last_name":"Email"}}`)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, signedWebhookRequest(t, payload))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var env2 envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env2))
	assert.Equal(t, "invalid_input", env2.Error.Kind)
}
