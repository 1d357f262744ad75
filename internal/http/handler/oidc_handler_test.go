package handler_test

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/adapter/cache"
	"github.com/lanternauth/lantern/internal/analytics"
	"github.com/lanternauth/lantern/internal/config"
	"github.com/lanternauth/lantern/internal/domain"
	httptransport "github.com/lanternauth/lantern/internal/http"
	httpHandler "github.com/lanternauth/lantern/internal/http/handler"
	httpmiddleware "github.com/lanternauth/lantern/internal/http/middleware"
	"github.com/lanternauth/lantern/internal/keyring"
	"github.com/lanternauth/lantern/internal/password"
	"github.com/lanternauth/lantern/internal/repository"
	"github.com/lanternauth/lantern/internal/service"
)

const (
	adminSecret  = "admin-api-secret"
	testClientID = "test-client"
	testRedirect = "https://app.example.com/callback"
	testUserPass = "correct-password"
)

type testEnv struct {
	router *gin.Engine
	keys   *keyring.Manager
	users  *memUserRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := zap.NewNop()
	hasher := password.NewHasher(password.DefaultCost)
	hash, err := hasher.Hash(testUserPass)
	require.NoError(t, err)

	users := newMemUserRepo(domain.User{ID: 7, Username: "alice", Email: "alice@example.com", PasswordHash: hash})
	clients := newMemClientRepo(domain.Client{ID: testClientID, Name: "Example App", Secret: "client-secret"})

	csrf := cache.NewRedisTokenStore(redisClient, "csrf:")
	codes := cache.NewRedisTokenStore(redisClient, "authcode:")

	keys := keyring.NewManager(newMemKeyRepo(), logger)
	require.NoError(t, keys.Rotate(context.Background()))

	cfg := config.Config{
		IssuerDomain:   "id.example.com",
		ProviderName:   "Lantern",
		ServiceName:    "lantern-idp",
		AdminAPISecret: adminSecret,
	}

	authorizeSvc := service.NewAuthorizeService(clients, users, csrf, codes, hasher, analytics.NopSink{}, 120*time.Second, 60*time.Second, logger)
	tokenSvc := service.NewTokenService(clients, users, codes, keys, cfg.IssuerURL(), 24*time.Hour, false, logger)
	discoverySvc := service.NewDiscoveryService(cfg)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	adminSvc := service.NewAdminService(clients, users, keys, tokenSvc, hasher, node, logger)

	oidc := httpHandler.NewOIDCHandler(authorizeSvc, tokenSvc, keys, discoverySvc, cfg.ProviderName)
	admin := httpHandler.NewAdminHandler(adminSvc)
	guard := &httpmiddleware.Admin{Secret: adminSecret}

	router := httptransport.NewRouter(cfg, oidc, admin, guard, nil, logger)
	return &testEnv{router: router, keys: keys, users: users}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestOpenIDConfiguration(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Equal(t, "https://id.example.com/", doc["issuer"])
	require.Equal(t, "https://id.example.com/oidc/authorize", doc["authorization_endpoint"])
	require.Equal(t, "https://id.example.com/oidc/token", doc["token_endpoint"])
	require.Equal(t, "https://id.example.com/.well-known/jwks.json", doc["jwks_uri"])
	require.Contains(t, doc["id_token_signing_alg_values_supported"], "RS256")
	require.Contains(t, doc["response_types_supported"], "code")
}

func TestJWKSLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeJWKS(t, w).Keys, 1)

	// Rotation publishes a second key.
	w = env.do(httptest.NewRequest(http.MethodPut, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeJWKS(t, w).Keys, 2)

	// A third rotation still publishes at most two.
	env.do(httptest.NewRequest(http.MethodPut, "/.well-known/jwks.json", nil))
	w = env.do(httptest.NewRequest(http.MethodPut, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeJWKS(t, w).Keys, 2)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decodeJWKS(t, w).Keys)
	require.Contains(t, w.Body.String(), `"keys":[]`)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	env := newTestEnv(t)

	// Step 1: the authorize request renders the login form.
	authorizeURL := "/oidc/authorize?response_type=code&client_id=" + testClientID +
		"&scope=openid&redirect_uri=" + url.QueryEscape(testRedirect) + "&state=abc123"
	w := env.do(httptest.NewRequest(http.MethodGet, authorizeURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Example App")

	formCtx := extractFormContext(t, w.Body.String())

	// Step 2: valid credentials redirect back with a code.
	form := url.Values{}
	form.Set("username", "alice")
	form.Set("password", testUserPass)
	form.Set("context", formCtx)
	req := httptest.NewRequest(http.MethodPost, "/oidc/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = env.do(req)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example.com", location.Host)
	require.Equal(t, "abc123", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	// Step 3: the code exchanges for a signed identity token.
	form = url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", testRedirect)
	req = httptest.NewRequest(http.MethodPost, "/oidc/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer client-secret")
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "id_token", resp.TokenType)
	require.Equal(t, 86400, resp.ExpiresIn)
	require.Equal(t, "openid", resp.Scope)
	require.Equal(t, resp.AccessToken, resp.IDToken)

	// The token verifies against the published JWKS.
	jwksResp := env.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	jwks := decodeJWKS(t, jwksResp)

	parsed, err := gojwt.ParseSigned(resp.IDToken, []gojose.SignatureAlgorithm{gojose.RS256})
	require.NoError(t, err)
	matching := jwks.Key(parsed.Headers[0].KeyID)
	require.Len(t, matching, 1)

	var std gojwt.Claims
	var custom struct {
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	require.NoError(t, parsed.Claims(matching[0].Key, &std, &custom))
	require.Equal(t, "https://id.example.com/", std.Issuer)
	require.Equal(t, "alice", std.Subject)
	require.Equal(t, gojwt.Audience{testClientID}, std.Audience)
	require.Equal(t, "alice", custom.PreferredUsername)
	require.Equal(t, "alice@example.com", custom.Email)

	// Step 4: a replayed code is rejected.
	req = httptest.NewRequest(http.MethodPost, "/oidc/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer client-secret")
	w = env.do(req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")
}

func TestAuthorizeUnknownClient(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet,
		"/oidc/authorize?response_type=code&client_id=ghost&scope=openid&redirect_uri="+url.QueryEscape(testRedirect), nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid client ID.")
}

func TestTokenMissingAuthorizationHeader(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "whatever")
	req := httptest.NewRequest(http.MethodPost, "/oidc/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "Missing auth token.")
}

func TestTokenWithoutSigningKey(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.keys.Clear(context.Background()))

	// Obtain a code first so the exchange reaches the signing step.
	authorizeURL := "/oidc/authorize?response_type=code&client_id=" + testClientID +
		"&scope=openid&redirect_uri=" + url.QueryEscape(testRedirect)
	w := env.do(httptest.NewRequest(http.MethodGet, authorizeURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	formCtx := extractFormContext(t, w.Body.String())

	form := url.Values{}
	form.Set("username", "alice")
	form.Set("password", testUserPass)
	form.Set("context", formCtx)
	req := httptest.NewRequest(http.MethodPost, "/oidc/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = env.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	form = url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", location.Query().Get("code"))
	req = httptest.NewRequest(http.MethodPost, "/oidc/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer client-secret")
	w = env.do(req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "No signing key available.")
}

func TestAdminRequiresSecret(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	require.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = env.do(req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "alice")
}

func TestAdminClientAndUserManagement(t *testing.T) {
	env := newTestEnv(t)

	adminReq := func(method, path, body string) *http.Request {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+adminSecret)
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	w := env.do(adminReq(http.MethodPost, "/admin/clients", `{"name":"New Relying Party"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var client struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &client))
	require.NotEmpty(t, client.ID)
	require.NotEmpty(t, client.Secret)

	// Too-short names are rejected.
	w = env.do(adminReq(http.MethodPost, "/admin/clients", `{"name":"ab"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(adminReq(http.MethodPost, "/admin/users", `{"username":"bob","email":"bob@example.com","password":"pw-for-bob"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var user struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	require.Equal(t, "bob", user.Username)

	// The stored hash verifies the submitted password.
	stored, err := env.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	ok, err := password.NewHasher(password.DefaultCost).Verify(stored.PasswordHash, "pw-for-bob")
	require.NoError(t, err)
	require.True(t, ok)

	w = env.do(adminReq(http.MethodPut, "/admin/users/7/email", `{"email":"new@example.com"}`))
	require.Equal(t, http.StatusOK, w.Code)
	updated, err := env.users.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "new@example.com", updated.Email)

	w = env.do(adminReq(http.MethodPost, "/admin/tokens/preview", `{"user_id":7,"client_id":"`+testClientID+`"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var preview struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	require.NotEmpty(t, preview.Token)

	// Key ring actions are reachable through the admin API too.
	w = env.do(adminReq(http.MethodPost, "/admin/keys/rotate", ""))
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(adminReq(http.MethodDelete, "/admin/keys", ""))
	require.Equal(t, http.StatusOK, w.Code)

	jwksResp := env.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Empty(t, decodeJWKS(t, jwksResp).Keys)
}

func decodeJWKS(t *testing.T, w *httptest.ResponseRecorder) gojose.JSONWebKeySet {
	t.Helper()
	var jwks gojose.JSONWebKeySet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	return jwks
}

var contextFieldRe = regexp.MustCompile(`name="context" value="([^"]*)"`)

func extractFormContext(t *testing.T, body string) string {
	t.Helper()
	match := contextFieldRe.FindStringSubmatch(body)
	require.Len(t, match, 2)
	return html.UnescapeString(match[1])
}

type memClientRepo struct {
	clients map[string]domain.Client
}

var _ repository.ClientRepository = (*memClientRepo)(nil)

func newMemClientRepo(clients ...domain.Client) *memClientRepo {
	repo := &memClientRepo{clients: make(map[string]domain.Client)}
	for _, c := range clients {
		repo.clients[c.ID] = c
	}
	return repo
}

func (r *memClientRepo) GetByID(ctx context.Context, id string) (domain.Client, error) {
	client, ok := r.clients[id]
	if !ok {
		return domain.Client{}, pgx.ErrNoRows
	}
	return client, nil
}

func (r *memClientRepo) List(ctx context.Context) ([]domain.Client, error) {
	out := make([]domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out, nil
}

func (r *memClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	r.clients[client.ID] = client
	return client, nil
}

func (r *memClientRepo) Delete(ctx context.Context, id string) error {
	delete(r.clients, id)
	return nil
}

type memUserRepo struct {
	users map[int64]domain.User
}

var _ repository.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo(users ...domain.User) *memUserRepo {
	repo := &memUserRepo{users: make(map[int64]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *memUserRepo) List(ctx context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Delete(ctx context.Context, id int64) error {
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.Email = email
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	r.users[id] = user
	return nil
}

type memKeyRepo struct {
	rows   []domain.SigningKey
	nextID int64
}

var _ repository.KeyRepository = (*memKeyRepo)(nil)

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{nextID: 1}
}

func (r *memKeyRepo) ListValid(ctx context.Context) ([]domain.SigningKey, error) {
	out := make([]domain.SigningKey, 0, len(r.rows))
	for _, row := range r.rows {
		if row.Valid {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memKeyRepo) Insert(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = r.nextID
	key.CreatedAt = time.Unix(key.ID, 0).UTC()
	r.nextID++
	r.rows = append(r.rows, key)
	return key, nil
}

func (r *memKeyRepo) RetireAllButNewest(ctx context.Context, keep int) (int64, error) {
	valid := 0
	for _, row := range r.rows {
		if row.Valid {
			valid++
		}
	}
	var retired int64
	for i := range r.rows {
		if valid <= keep {
			break
		}
		if r.rows[i].Valid {
			r.rows[i].Valid = false
			valid--
			retired++
		}
	}
	return retired, nil
}

func (r *memKeyRepo) DeleteAll(ctx context.Context) error {
	r.rows = nil
	return nil
}
