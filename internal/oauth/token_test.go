package oauth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlowMCP/remote-mcp-authkit/internal/logging"
)

func TestCodeChallenge(t *testing.T) {
	assert.Equal(t, "jPnMK2BCaVunKifsWXt7Try1Kx_1iC1SZSJnbFiGihI", CodeChallenge(testVerifier))
}

func TestVerifyCodeChallenge(t *testing.T) {
	challenge := CodeChallenge(testVerifier)

	assert.NoError(t, VerifyCodeChallenge(testVerifier, challenge, ""))
	assert.NoError(t, VerifyCodeChallenge(testVerifier, challenge, PKCEMethodS256))
	assert.Error(t, VerifyCodeChallenge(testVerifier, challenge, "plain"))
	assert.Error(t, VerifyCodeChallenge("short", CodeChallenge("short"), PKCEMethodS256))
	assert.Error(t, VerifyCodeChallenge(strings.Repeat("a", 129), CodeChallenge(strings.Repeat("a", 129)), PKCEMethodS256))
	assert.Error(t, VerifyCodeChallenge(strings.Repeat("b", 43), challenge, PKCEMethodS256))
}

func TestAccessToken_RoundTrip(t *testing.T) {
	p := NewProvider(Config{Issuer: "https://gw.example", Secret: []byte("k")}, NewMemoryStore(), nil,
		WithLogger(logging.Discard()))

	tok, expires, err := p.IssueAccessToken(Props{Subject: "alice", ClientID: "c1", Permissions: []string{"read"}})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	props, err := p.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, Props{Subject: "alice", ClientID: "c1", Permissions: []string{"read"}}, props)
}

func TestAccessToken_Rejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := NewProvider(Config{Issuer: "https://gw.example", Secret: []byte("k"), AccessTokenTTL: time.Minute},
		NewMemoryStore(), nil, WithLogger(logging.Discard()), WithClock(clock))

	tok, _, err := p.IssueAccessToken(Props{Subject: "alice"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewProvider(Config{Issuer: "https://gw.example", Secret: []byte("other")}, NewMemoryStore(), nil,
			WithClock(clock))
		_, err := other.VerifyAccessToken(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewProvider(Config{Issuer: "https://elsewhere", Secret: []byte("k")}, NewMemoryStore(), nil,
			WithClock(clock))
		_, err := other.VerifyAccessToken(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("expired", func(t *testing.T) {
		later := NewProvider(Config{Issuer: "https://gw.example", Secret: []byte("k")}, NewMemoryStore(), nil,
			WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
		_, err := later.VerifyAccessToken(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := p.VerifyAccessToken("a.b.c")
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})
}

func TestNarrow(t *testing.T) {
	perms := []string{"image_generation", "read"}

	got, ok := narrow(perms, "")
	assert.True(t, ok)
	assert.Equal(t, perms, got)

	got, ok = narrow(perms, "read read")
	assert.True(t, ok)
	assert.Equal(t, []string{"read"}, got)

	_, ok = narrow(perms, "read write")
	assert.False(t, ok)
}
