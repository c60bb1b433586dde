package oauth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/FlowMCP/remote-mcp-authkit/internal/logging"
)

const (
	testRedirect = "http://localhost:6274/oauth/callback"
	testVerifier = "dBjftJeZ4CVP-mJ92K9qlx7Vx3dgApmdXpz2B0F4hf5MH1Ew"
)

func testUsers(t *testing.T) *Directory {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewDirectory(User{
		Username:     "alice",
		PasswordHash: string(hash),
		Permissions:  []string{"image_generation", "read"},
	})
}

func stores(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"redis": func() Store {
			mr := miniredis.RunT(t)
			return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		},
	}
}

type harness struct {
	t        *testing.T
	provider *Provider
	srv      *httptest.Server
	http     *http.Client
}

func newHarness(t *testing.T, store Store) *harness {
	t.Helper()
	p := NewProvider(Config{
		Secret:          []byte("test-secret"),
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		AuthCodeTTL:     time.Minute,
		ResourcePath:    "/mcp",
	}, store, testUsers(t), WithLogger(logging.Discard()))
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return &harness{
		t:        t,
		provider: p,
		srv:      srv,
		http: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
	}
}

func (h *harness) register(authMethod string) RegistrationResponse {
	h.t.Helper()
	body, _ := json.Marshal(RegistrationRequest{
		RedirectURIs:            []string{testRedirect},
		ClientName:              "Inspector",
		TokenEndpointAuthMethod: authMethod,
	})
	resp, err := h.http.Post(h.srv.URL+PathRegister, "application/json", bytes.NewReader(body))
	require.NoError(h.t, err)
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)

	var out RegistrationResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *harness) authorize(clientID, scope, password string) *http.Response {
	h.t.Helper()
	form := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {testRedirect},
		"response_type":         {"code"},
		"state":                 {"xyz"},
		"scope":                 {scope},
		"code_challenge":        {CodeChallenge(testVerifier)},
		"code_challenge_method": {PKCEMethodS256},
		"username":              {"alice"},
		"password":              {password},
	}
	resp, err := h.http.PostForm(h.srv.URL+PathAuthorize, form)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) code(clientID, scope string) string {
	h.t.Helper()
	resp := h.authorize(clientID, scope, "wonderland")
	require.Equal(h.t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(h.t, err)
	assert.Equal(h.t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(h.t, code)
	return code
}

func (h *harness) token(form url.Values) (int, map[string]any) {
	h.t.Helper()
	resp, err := h.http.PostForm(h.srv.URL+PathToken, form)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func exchange(clientID, code, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {verifier},
	}
}

func TestFlow_AuthorizationCodeAndRefresh(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, newStore())
			client := h.register("")
			assert.Empty(t, client.ClientSecret)

			code := h.code(client.ClientID, "")
			status, tok := h.token(exchange(client.ClientID, code, testVerifier))
			require.Equal(t, http.StatusOK, status, tok)
			assert.Equal(t, "Bearer", tok["token_type"])
			assert.EqualValues(t, 3600, tok["expires_in"])

			props, err := h.provider.VerifyAccessToken(tok["access_token"].(string))
			require.NoError(t, err)
			assert.Equal(t, "alice", props.Subject)
			assert.Equal(t, client.ClientID, props.ClientID)
			assert.Equal(t, []string{"image_generation", "read"}, props.Permissions)

			// codes are single use
			status, tok2 := h.token(exchange(client.ClientID, code, testVerifier))
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, ErrorInvalidGrant, tok2["error"])

			refresh := tok["refresh_token"].(string)
			status, rotated := h.token(url.Values{
				"grant_type":    {"refresh_token"},
				"client_id":     {client.ClientID},
				"refresh_token": {refresh},
				"scope":         {"read"},
			})
			require.Equal(t, http.StatusOK, status, rotated)
			assert.NotEqual(t, refresh, rotated["refresh_token"])
			props, err = h.provider.VerifyAccessToken(rotated["access_token"].(string))
			require.NoError(t, err)
			assert.Equal(t, []string{"read"}, props.Permissions)

			// rotated refresh tokens cannot be replayed
			status, _ = h.token(url.Values{
				"grant_type":    {"refresh_token"},
				"client_id":     {client.ClientID},
				"refresh_token": {refresh},
			})
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
}

func TestToken_WrongVerifier(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("")
	code := h.code(client.ClientID, "")

	status, out := h.token(exchange(client.ClientID, code, strings.Repeat("a", 43)))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrorInvalidGrant, out["error"])
}

func TestToken_ClientMismatch(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	first := h.register("")
	second := h.register("")
	code := h.code(first.ClientID, "")

	status, out := h.token(exchange(second.ClientID, code, testVerifier))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrorInvalidGrant, out["error"])
}

func TestToken_ConfidentialClient(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("client_secret_post")
	require.NotEmpty(t, client.ClientSecret)

	code := h.code(client.ClientID, "")
	status, out := h.token(exchange(client.ClientID, code, testVerifier))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, ErrorInvalidClient, out["error"])

	code = h.code(client.ClientID, "")
	form := exchange(client.ClientID, code, testVerifier)
	form.Set("client_secret", client.ClientSecret)
	status, out = h.token(form)
	assert.Equal(t, http.StatusOK, status, out)
}

func TestToken_UnsupportedGrant(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	status, out := h.token(url.Values{"grant_type": {"password"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrorUnsupportedGrantType, out["error"])
}

func TestAuthorize_ScopeNarrowing(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("")

	code := h.code(client.ClientID, "image_generation")
	_, tok := h.token(exchange(client.ClientID, code, testVerifier))
	props, err := h.provider.VerifyAccessToken(tok["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"image_generation"}, props.Permissions)
	assert.Equal(t, "image_generation", tok["scope"])

	resp := h.authorize(client.ClientID, "admin", "wonderland")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, _ := url.Parse(resp.Header.Get("Location"))
	assert.Equal(t, ErrorInvalidScope, loc.Query().Get("error"))
}

func TestAuthorize_BadPassword(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("")

	resp := h.authorize(client.ClientID, "", "nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Invalid username or password")
}

func TestAuthorize_PostRejectsBadParameters(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("")

	tests := []struct {
		name      string
		field     string
		value     string
		wantError string
	}{
		{"plain challenge method", "code_challenge_method", "plain", ErrorInvalidRequest},
		{"token response type", "response_type", "token", ErrorUnsupportedResponseType},
		{"missing response type", "response_type", "", ErrorUnsupportedResponseType},
		{"missing challenge", "code_challenge", "", ErrorInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{
				"client_id":             {client.ClientID},
				"redirect_uri":          {testRedirect},
				"response_type":         {"code"},
				"state":                 {"xyz"},
				"code_challenge":        {CodeChallenge(testVerifier)},
				"code_challenge_method": {PKCEMethodS256},
				"username":              {"alice"},
				"password":              {"wonderland"},
			}
			form.Set(tt.field, tt.value)
			resp, err := h.http.PostForm(h.srv.URL+PathAuthorize, form)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusFound, resp.StatusCode)
			loc, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, loc.Query().Get("error"))
			assert.Empty(t, loc.Query().Get("code"))
			assert.Equal(t, "xyz", loc.Query().Get("state"))
		})
	}
}

func TestAuthorize_GetRendersForm(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	client := h.register("")

	q := url.Values{
		"response_type":  {"code"},
		"client_id":      {client.ClientID},
		"redirect_uri":   {testRedirect},
		"code_challenge": {CodeChallenge(testVerifier)},
	}
	resp, err := h.http.Get(h.srv.URL + PathAuthorize + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Inspector")
	assert.Contains(t, string(body), `name="code_challenge"`)
	assert.Contains(t, string(body), `name="response_type" value="code"`)

	q.Del("code_challenge")
	resp2, err := h.http.Get(h.srv.URL + PathAuthorize + "?" + q.Encode())
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusFound, resp2.StatusCode)
	assert.Contains(t, resp2.Header.Get("Location"), "error=invalid_request")

	q.Set("client_id", "unknown")
	resp3, err := h.http.Get(h.srv.URL + PathAuthorize + "?" + q.Encode())
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t, NewMemoryStore())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no redirect uris", `{"client_name":"x"}`},
		{"relative redirect", `{"redirect_uris":["/callback"]}`},
		{"bad auth method", `{"redirect_uris":["https://a.example/cb"],"token_endpoint_auth_method":"private_key_jwt"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.http.Post(h.srv.URL+PathRegister, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestMetadataAndFallbacks(t *testing.T) {
	h := newHarness(t, NewMemoryStore())

	get := func(path string) (int, string) {
		resp, err := h.http.Get(h.srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	status, body := get(PathServerMetadata)
	require.Equal(t, http.StatusOK, status)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &meta))
	assert.Equal(t, h.srv.URL, meta["issuer"])
	assert.Equal(t, h.srv.URL+PathToken, meta["token_endpoint"])

	status, body = get(PathResourceMetadata)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"resource":"`+h.srv.URL+`/mcp"`)

	status, body = get(PathResourceMetadata + "/sse")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"resource":"`+h.srv.URL+`/sse"`)

	status, body = get("/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, LandingText, body)

	status, body = get("/foo")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, `"error":"not_found"`)
}

func TestBearerMiddleware(t *testing.T) {
	p := NewProvider(Config{Secret: []byte("s")}, NewMemoryStore(), nil, WithLogger(logging.Discard()))
	var got Props
	protected := p.BearerMiddleware("/mcp")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PropsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://gw.example/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer resource_metadata="http://gw.example/.well-known/oauth-protected-resource/mcp"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "http://gw.example/mcp", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	token, _, err := p.IssueAccessToken(Props{Subject: "bob", ClientID: "c1", Permissions: []string{"image_generation"}})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "http://gw.example/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bob", got.Subject)
	assert.Contains(t, got.Permissions, "image_generation")
}
