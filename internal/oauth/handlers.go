package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// OAuth 2.0 error codes per RFC 6749.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorAccessDenied            = "access_denied"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorInvalidScope            = "invalid_scope"
	ErrorServerError             = "server_error"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
)

// OAuthError is an OAuth 2.0 error response body.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RegistrationRequest is the DCR request body (RFC 7591).
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegistrationResponse is the DCR response body (RFC 7591).
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// TokenResponse is the token endpoint response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (p *Provider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidRequest, "Invalid JSON body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}
	for _, uri := range req.RedirectURIs {
		u, err := url.Parse(uri)
		if err != nil || u.Scheme == "" || u.Fragment != "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "Invalid redirect_uri: "+uri)
			return
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	switch authMethod {
	case "none", "client_secret_basic", "client_secret_post":
	default:
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "Unsupported token_endpoint_auth_method")
		return
	}

	client := &Client{
		ID:                      uuid.NewString(),
		Name:                    req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               p.now(),
	}

	var secret string
	if authMethod != "none" {
		var err error
		secret, err = randomToken(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to generate client secret")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to hash client secret")
			return
		}
		client.SecretHash = string(hash)
	}

	if err := p.store.CreateClient(r.Context(), client); err != nil {
		p.logger.Error("store client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to store client")
		return
	}
	p.logger.Info("client registered", "client_id", client.ID, "name", client.Name)

	writeJSON(w, http.StatusCreated, RegistrationResponse{
		ClientID:                client.ID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}

// handleAuthorizeGet validates the request and shows the login form.
func (p *Provider) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := &loginPageData{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
	if data.ClientID == "" {
		p.renderLoginError(w, "Missing client_id parameter")
		return
	}

	client, err := p.store.GetClient(r.Context(), data.ClientID)
	if err != nil {
		p.renderLoginError(w, "Unknown client")
		return
	}
	if data.RedirectURI == "" && len(client.RedirectURIs) == 1 {
		data.RedirectURI = client.RedirectURIs[0]
	}
	if !slices.Contains(client.RedirectURIs, data.RedirectURI) {
		p.renderLoginError(w, "Invalid redirect_uri")
		return
	}
	if !checkAuthorizeRequest(w, r, data) {
		return
	}

	data.ClientName = client.Name
	p.renderLoginPage(w, http.StatusOK, data)
}

// checkAuthorizeRequest validates the parameters shared by the login form
// and its submission, redirecting with an error when they are unusable.
func checkAuthorizeRequest(w http.ResponseWriter, r *http.Request, data *loginPageData) bool {
	switch {
	case data.ResponseType != "code":
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorUnsupportedResponseType, "Only 'code' response_type is supported")
	case data.CodeChallenge == "":
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorInvalidRequest, "code_challenge is required (PKCE)")
	case data.CodeChallengeMethod != "" && data.CodeChallengeMethod != PKCEMethodS256:
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorInvalidRequest, "Only S256 code_challenge_method is supported")
	default:
		return true
	}
	return false
}

// handleAuthorizePost authenticates the user and redirects back with a code.
func (p *Provider) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.renderLoginError(w, "Failed to parse form")
		return
	}
	data := &loginPageData{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		ResponseType:        r.FormValue("response_type"),
		State:               r.FormValue("state"),
		Scope:               r.FormValue("scope"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}

	client, err := p.store.GetClient(r.Context(), data.ClientID)
	if err != nil {
		p.renderLoginError(w, "Unknown client")
		return
	}
	if !slices.Contains(client.RedirectURIs, data.RedirectURI) {
		p.renderLoginError(w, "Invalid redirect_uri")
		return
	}
	if !checkAuthorizeRequest(w, r, data) {
		return
	}
	data.ClientName = client.Name

	user, err := p.users.Authenticate(r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		p.logger.Warn("login failed", "client_id", client.ID, "username", r.FormValue("username"))
		data.Error = "Invalid username or password"
		p.renderLoginPage(w, http.StatusUnauthorized, data)
		return
	}

	perms, ok := narrow(user.Permissions, data.Scope)
	if !ok {
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorInvalidScope, "Requested scope exceeds the user's permissions")
		return
	}

	code, err := randomToken(32)
	if err != nil {
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorServerError, "Failed to generate authorization code")
		return
	}
	authCode := &AuthCode{
		Code:                code,
		ClientID:            client.ID,
		RedirectURI:         data.RedirectURI,
		Scope:               data.Scope,
		CodeChallenge:       data.CodeChallenge,
		CodeChallengeMethod: data.CodeChallengeMethod,
		Subject:             user.Username,
		Permissions:         perms,
		ExpiresAt:           p.now().Add(p.cfg.AuthCodeTTL),
	}
	if err := p.store.SaveCode(r.Context(), authCode); err != nil {
		p.logger.Error("store authorization code", "err", err)
		redirectWithError(w, r, data.RedirectURI, data.State, ErrorServerError, "Failed to store authorization code")
		return
	}

	p.logger.Info("user authorized client", "client_id", client.ID, "sub", user.Username, "perms", perms)
	redirectWith(w, r, data.RedirectURI, url.Values{"code": {code}, "state": {data.State}})
}

// narrow restricts perms to the space-separated scope. An empty scope keeps
// all perms; a scope naming a permission the user lacks is rejected.
func narrow(perms []string, scope string) ([]string, bool) {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return append([]string{}, perms...), true
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if !slices.Contains(perms, s) {
			return nil, false
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, true
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidRequest, "Failed to parse form")
		return
	}

	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		secret = r.FormValue("client_secret")
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		p.authorizationCodeGrant(w, r, clientID, secret)
	case "refresh_token":
		p.refreshTokenGrant(w, r, clientID, secret)
	default:
		writeOAuthError(w, http.StatusBadRequest, ErrorUnsupportedGrantType, "Unsupported grant_type")
	}
}

// authenticateClient loads the client and checks its secret when it has one.
func (p *Provider) authenticateClient(r *http.Request, clientID, secret string) (*Client, bool) {
	client, err := p.store.GetClient(r.Context(), clientID)
	if err != nil {
		return nil, false
	}
	if client.SecretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
			return nil, false
		}
	}
	return client, true
}

func (p *Provider) authorizationCodeGrant(w http.ResponseWriter, r *http.Request, clientID, secret string) {
	code := r.FormValue("code")
	verifier := r.FormValue("code_verifier")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidRequest, "code is required")
		return
	}
	if verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidRequest, "code_verifier is required (PKCE)")
		return
	}

	client, ok := p.authenticateClient(r, clientID, secret)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, ErrorInvalidClient, "Invalid client credentials")
		return
	}

	// The code is spent on first presentation, even if the exchange fails.
	authCode, err := p.store.ConsumeCode(r.Context(), code)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "Invalid or expired authorization code")
		return
	}
	if authCode.ClientID != client.ID {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "Client ID mismatch")
		return
	}
	if uri := r.FormValue("redirect_uri"); uri != "" && uri != authCode.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "redirect_uri mismatch")
		return
	}
	if err := VerifyCodeChallenge(verifier, authCode.CodeChallenge, authCode.CodeChallengeMethod); err != nil {
		p.logger.Debug("pkce verification failed", "client_id", client.ID, "err", err)
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "PKCE verification failed")
		return
	}

	p.issueTokens(w, r, Props{
		Subject:     authCode.Subject,
		ClientID:    client.ID,
		Permissions: authCode.Permissions,
	}, authCode.Scope)
}

func (p *Provider) refreshTokenGrant(w http.ResponseWriter, r *http.Request, clientID, secret string) {
	token := r.FormValue("refresh_token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidRequest, "refresh_token is required")
		return
	}
	client, ok := p.authenticateClient(r, clientID, secret)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, ErrorInvalidClient, "Invalid client credentials")
		return
	}

	grant, err := p.store.ConsumeRefresh(r.Context(), token)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "Invalid refresh token")
		return
	}
	if grant.ClientID != client.ID {
		writeOAuthError(w, http.StatusBadRequest, ErrorInvalidGrant, "Client ID mismatch")
		return
	}

	scope := grant.Scope
	perms := grant.Permissions
	if requested := r.FormValue("scope"); requested != "" {
		narrowed, ok := narrow(grant.Permissions, requested)
		if !ok {
			writeOAuthError(w, http.StatusBadRequest, ErrorInvalidScope, "Requested scope exceeds the original grant")
			return
		}
		scope, perms = requested, narrowed
	}

	p.issueTokens(w, r, Props{
		Subject:     grant.Subject,
		ClientID:    client.ID,
		Permissions: perms,
	}, scope)
}

func (p *Provider) issueTokens(w http.ResponseWriter, r *http.Request, props Props, scope string) {
	access, _, err := p.IssueAccessToken(props)
	if err != nil {
		p.logger.Error("issue access token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to issue access token")
		return
	}

	resp := TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(p.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if p.cfg.RefreshTokenTTL > 0 {
		refresh, err := randomToken(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to generate refresh token")
			return
		}
		err = p.store.SaveRefresh(r.Context(), &RefreshGrant{
			Token:       refresh,
			ClientID:    props.ClientID,
			Subject:     props.Subject,
			Scope:       scope,
			Permissions: props.Permissions,
			ExpiresAt:   p.now().Add(p.cfg.RefreshTokenTTL),
		})
		if err != nil {
			p.logger.Error("store refresh token", "err", err)
			writeOAuthError(w, http.StatusInternalServerError, ErrorServerError, "Failed to store refresh token")
			return
		}
		resp.RefreshToken = refresh
	}

	p.logger.Debug("token issued", "client_id", props.ClientID, "sub", props.Subject, "expires_in", resp.ExpiresIn)
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// handleServerMetadata returns the authorization server metadata (RFC 8414).
func (p *Provider) handleServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := p.baseURL(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + PathAuthorize,
		"token_endpoint":                        base + PathToken,
		"registration_endpoint":                 base + PathRegister,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_basic", "client_secret_post"},
		"code_challenge_methods_supported":      []string{PKCEMethodS256},
	})
}

// handleResourceMetadata returns the protected resource metadata (RFC 9728).
// A path suffix after the well-known prefix names the resource.
func (p *Provider) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := p.baseURL(r)
	resource := p.cfg.ResourcePath
	if suffix := chi.URLParam(r, "*"); suffix != "" {
		resource = "/" + suffix
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 base + resource,
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, OAuthError{Error: code, ErrorDescription: description})
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	redirectWith(w, r, redirectURI, url.Values{
		"error":             {code},
		"error_description": {description},
		"state":             {state},
	})
}

func redirectWith(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	q := u.Query()
	for k, vs := range params {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		q.Set(k, vs[0])
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
