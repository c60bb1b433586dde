package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			_, err := s.GetClient(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.CreateClient(ctx, &Client{ID: "c1", Name: "one", RedirectURIs: []string{testRedirect}}))
			c, err := s.GetClient(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "one", c.Name)
			assert.Equal(t, []string{testRedirect}, c.RedirectURIs)

			code := &AuthCode{Code: "abc", ClientID: "c1", Subject: "alice", Permissions: []string{"read"},
				ExpiresAt: time.Now().Add(time.Minute)}
			require.NoError(t, s.SaveCode(ctx, code))
			got, err := s.ConsumeCode(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Subject)
			_, err = s.ConsumeCode(ctx, "abc")
			assert.ErrorIs(t, err, ErrNotFound)

			grant := &RefreshGrant{Token: "r1", ClientID: "c1", Subject: "alice", ExpiresAt: time.Now().Add(time.Hour)}
			require.NoError(t, s.SaveRefresh(ctx, grant))
			g, err := s.ConsumeRefresh(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "c1", g.ClientID)
			_, err = s.ConsumeRefresh(ctx, "r1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveCode(ctx, &AuthCode{Code: "old", ExpiresAt: now.Add(-time.Second)}))
	_, err := s.ConsumeCode(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.codes, "expired codes are removed on lookup")
}

func TestMemoryStore_SweepsUnconsumedGrants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveCode(ctx, &AuthCode{Code: "abandoned", ExpiresAt: now.Add(30 * time.Second)}))
	require.NoError(t, s.SaveRefresh(ctx, &RefreshGrant{Token: "stale", ExpiresAt: now.Add(30 * time.Second)}))
	require.NoError(t, s.SaveRefresh(ctx, &RefreshGrant{Token: "live", ExpiresAt: now.Add(time.Hour)}))

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.SaveCode(ctx, &AuthCode{Code: "fresh", ExpiresAt: now.Add(time.Minute)}))

	assert.NotContains(t, s.codes, "abandoned")
	assert.Contains(t, s.codes, "fresh")
	assert.NotContains(t, s.refresh, "stale")
	assert.Contains(t, s.refresh, "live")
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.SaveCode(ctx, &AuthCode{Code: "abc", ExpiresAt: time.Now().Add(time.Minute)}))
	assert.True(t, mr.Exists("authkit:code:abc"))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL("authkit:code:abc").Seconds(), 2)

	mr.FastForward(2 * time.Minute)
	_, err := s.ConsumeCode(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRefresh(ctx, &RefreshGrant{Token: "gone", ExpiresAt: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists("authkit:refresh:gone"))
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
