package oauth

import (
	"context"
	"sync"
	"time"
)

// Client is a registered OAuth client.
type Client struct {
	ID                      string    `json:"client_id"`
	SecretHash              string    `json:"secret_hash,omitempty"`
	Name                    string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
}

// AuthCode is a one-time authorization code awaiting exchange.
type AuthCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Subject             string    `json:"sub"`
	Permissions         []string  `json:"perms"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// RefreshGrant backs one refresh token.
type RefreshGrant struct {
	Token       string    `json:"token"`
	ClientID    string    `json:"client_id"`
	Subject     string    `json:"sub"`
	Scope       string    `json:"scope,omitempty"`
	Permissions []string  `json:"perms"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store persists clients and pending grants. Consume methods return a grant
// at most once; expired grants are reported as ErrNotFound.
type Store interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	SaveCode(ctx context.Context, code *AuthCode) error
	ConsumeCode(ctx context.Context, code string) (*AuthCode, error)
	SaveRefresh(ctx context.Context, grant *RefreshGrant) error
	ConsumeRefresh(ctx context.Context, token string) (*RefreshGrant, error)
}

// memorySweepInterval bounds how often saves scan for expired grants.
const memorySweepInterval = time.Minute

// MemoryStore keeps everything in process memory. Expired codes and refresh
// tokens that are never consumed are swept on a later save.
type MemoryStore struct {
	mu        sync.Mutex
	clients   map[string]*Client
	codes     map[string]*AuthCode
	refresh   map[string]*RefreshGrant
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*Client),
		codes:   make(map[string]*AuthCode),
		refresh: make(map[string]*RefreshGrant),
		now:     time.Now,
	}
}

func (m *MemoryStore) CreateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetClient(_ context.Context, id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) SaveCode(_ context.Context, code *AuthCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *MemoryStore) ConsumeCode(_ context.Context, code string) (*AuthCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.codes, code)
	if m.now().After(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) SaveRefresh(_ context.Context, grant *RefreshGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	cp := *grant
	m.refresh[grant.Token] = &cp
	return nil
}

// sweep drops expired grants. Callers hold m.mu.
func (m *MemoryStore) sweep() {
	now := m.now()
	if now.Sub(m.lastSweep) < memorySweepInterval {
		return
	}
	m.lastSweep = now
	for k, c := range m.codes {
		if now.After(c.ExpiresAt) {
			delete(m.codes, k)
		}
	}
	for k, g := range m.refresh {
		if now.After(g.ExpiresAt) {
			delete(m.refresh, k)
		}
	}
}

func (m *MemoryStore) ConsumeRefresh(_ context.Context, token string) (*RefreshGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.refresh[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.refresh, token)
	if m.now().After(g.ExpiresAt) {
		return nil, ErrNotFound
	}
	return g, nil
}
