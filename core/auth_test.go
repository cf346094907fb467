package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server *Server
	echo   *echo.Echo
	db     *store.Store
	config *Config
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	config := &Config{
		JWTSecret:         "test-secret",
		TokenExpiration:   time.Hour,
		ProviderModel:     "test-model",
		HeartbeatInterval: 20 * time.Second,
		UpstreamTimeout:   time.Minute,
	}

	server, err := NewServer(config, db, testLogger())
	require.NoError(t, err)

	e := echo.New()
	server.RegisterRoutes(e)

	return &serverFixture{server: server, echo: e, db: db, config: config}
}

// do performs a request against the fixture's router and returns the
// recorded response.
func (f *serverFixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) register(t *testing.T, username, password string) {
	t.Helper()
	rec := f.do(http.MethodPost, "/auth/register",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *serverFixture) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := f.do(http.MethodPost, "/auth/login",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func bearer(token string) http.Header {
	return http.Header{echo.HeaderAuthorization: []string{"Bearer " + token}}
}

func TestServerRequiresJWTSecret(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	defer db.Close()

	_, err = NewServer(&Config{}, db, testLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT secret")
}

func TestRegisterAndLoginFlow(t *testing.T) {
	fixture := newServerFixture(t)

	fixture.register(t, "alice", "sekret1")
	token := fixture.login(t, "alice", "sekret1")

	rec := fixture.do(http.MethodGet, "/chat/history", "", bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterValidation(t *testing.T) {
	fixture := newServerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing fields", `{}`},
		{"short username", `{"username":"ab","password":"sekret1"}`},
		{"long username", `{"username":"` + strings.Repeat("x", 51) + `","password":"sekret1"}`},
		{"short password", `{"username":"alice","password":"12345"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := fixture.do(http.MethodPost, "/auth/register", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")

	rec := fixture.do(http.MethodPost, "/auth/register",
		`{"username":"alice","password":"another1"}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")

	rec := fixture.do(http.MethodPost, "/auth/login",
		`{"username":"alice","password":"wrong-password"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fixture.do(http.MethodPost, "/auth/login",
		`{"username":"nobody","password":"sekret1"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateRejectsMissingToken(t *testing.T) {
	fixture := newServerFixture(t)

	rec := fixture.do(http.MethodGet, "/chat/history", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateAcceptsQueryParamToken(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")
	token := fixture.login(t, "alice", "sekret1")

	// EventSource cannot set headers, so the token rides the query string
	rec := fixture.do(http.MethodGet, "/chat/history?token="+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGateRejectsExpiredToken(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")

	now := time.Now()
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:   1,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	})
	signed, err := expired.SignedString([]byte(fixture.config.JWTSecret))
	require.NoError(t, err)

	rec := fixture.do(http.MethodGet, "/chat/history", "", bearer(signed))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateRejectsWrongSecret(t *testing.T) {
	fixture := newServerFixture(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:   1,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	rec := fixture.do(http.MethodGet, "/chat/history", "", bearer(signed))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateRejectsTokenForUnknownUser(t *testing.T) {
	fixture := newServerFixture(t)

	orphan := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:   9999,
		Username: "ghost",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := orphan.SignedString([]byte(fixture.config.JWTSecret))
	require.NoError(t, err)

	rec := fixture.do(http.MethodGet, "/chat/history", "", bearer(signed))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageEndpointValidatesInput(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")
	token := fixture.login(t, "alice", "sekret1")

	rec := fixture.do(http.MethodPost, "/chat/message", `{"message":"hi"}`, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fixture.do(http.MethodPost, "/chat/message", `{"clientId":"abc"}`, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryReturnsOnlyOwnMessages(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "alice", "sekret1")
	fixture.register(t, "bob", "sekret2")
	aliceToken := fixture.login(t, "alice", "sekret1")
	bobToken := fixture.login(t, "bob", "sekret2")

	ctx := context.Background()
	aliceUser, err := fixture.db.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, fixture.db.SaveMessage(ctx, aliceUser.ID, RoleUser, "hello", "c1"))

	var resp struct {
		Messages []store.Message `json:"messages"`
	}

	rec := fixture.do(http.MethodGet, "/chat/history", "", bearer(aliceToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "hello", resp.Messages[0].Content)

	rec = fixture.do(http.MethodGet, "/chat/history", "", bearer(bobToken))
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Messages = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Messages)
}

func TestStatusEndpointIsOpen(t *testing.T) {
	fixture := newServerFixture(t)

	rec := fixture.do(http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status       string `json:"status"`
		OpenSessions int    `json:"openSessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, 0, resp.OpenSessions)
}
