package grants_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/internal/grants"
	"github.com/khanghh/koidc/internal/grants/grantstest"
	"github.com/khanghh/koidc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(t *testing.T, svc *grants.TokenService, value string, token model.Token) *model.Token {
	t.Helper()
	if token.ExpirationDate.IsZero() {
		token.ExpirationDate = time.Now().Add(time.Hour)
	}
	require.NoError(t, svc.Save(context.Background(), &token, value))
	return &token
}

func TestTokenServiceSave(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)

	token := issue(t, svc, "access-1", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1"})
	assert.NotEmpty(t, token.GrantID)
	assert.Equal(t, common.FingerprintToken("access-1"), token.Code)
	assert.False(t, token.CreationDate.IsZero())
	assert.InDelta(t, 3600, token.TTL, 1)

	found, err := svc.Find(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, token.GrantID, found.GrantID)

	_, err = svc.Find(context.Background(), "unknown")
	require.ErrorIs(t, err, grants.ErrTokenNotFound)

	err = svc.Save(context.Background(), &model.Token{ClientID: "c1"}, " ")
	require.ErrorIs(t, err, grants.ErrTokenEmpty)
	err = svc.Save(context.Background(), &model.Token{}, "value")
	require.ErrorIs(t, err, grants.ErrClientEmpty)
}

func TestGrantResolution(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)
	ctx := context.Background()

	issue(t, svc, "at", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1", UserID: "u1", GrantID: "g1"})
	issue(t, svc, "rt", model.Token{Type: model.TokenTypeRefreshToken, ClientID: "c1", UserID: "u1", GrantID: "g1"})
	issue(t, svc, "tx", model.Token{Type: model.TokenTypeTxToken, ClientID: "c2", GrantID: "g2"})

	t.Run("access token lookup", func(t *testing.T) {
		grant, err := svc.ByAccessToken(ctx, "at")
		require.NoError(t, err)
		assert.Equal(t, &grants.Grant{ID: "g1", ClientID: "c1", UserID: "u1"}, grant)

		grant, err = svc.ByAccessToken(ctx, "tx")
		require.NoError(t, err)
		assert.Equal(t, "g2", grant.ID)
	})

	t.Run("access token lookup ignores other types", func(t *testing.T) {
		_, err := svc.ByAccessToken(ctx, "rt")
		require.ErrorIs(t, err, grants.ErrGrantNotFound)
	})

	t.Run("code lookup matches any type", func(t *testing.T) {
		grant, err := svc.ByCode(ctx, "rt")
		require.NoError(t, err)
		assert.Equal(t, "g1", grant.ID)
	})

	t.Run("unknown value", func(t *testing.T) {
		_, err := svc.ByCode(ctx, "nope")
		require.ErrorIs(t, err, grants.ErrGrantNotFound)
	})

	t.Run("expired tokens still resolve", func(t *testing.T) {
		issue(t, svc, "old", model.Token{
			Type:           model.TokenTypeAccessToken,
			ClientID:       "c1",
			GrantID:        "g3",
			CreationDate:   time.Now().Add(-2 * time.Hour),
			ExpirationDate: time.Now().Add(-time.Hour),
		})
		grant, err := svc.ByAccessToken(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, "g3", grant.ID)
	})
}

func TestRevokeGrantCascade(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)
	ctx := context.Background()

	issue(t, svc, "at", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1", GrantID: "g1"})
	issue(t, svc, "rt", model.Token{Type: model.TokenTypeRefreshToken, ClientID: "c1", GrantID: "g1"})
	issue(t, svc, "other", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1", GrantID: "g2"})

	removed, err := svc.RevokeGrant(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	tokens, err := svc.GetGrantTokens(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.Equal(t, 1, repo.Len())
}

func TestRevokeClientTokens(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)
	ctx := context.Background()

	issue(t, svc, "at", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1"})
	issue(t, svc, "rt", model.Token{Type: model.TokenTypeRefreshToken, ClientID: "c1"})
	issue(t, svc, "at2", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c2"})

	removed, err := svc.RevokeClientTokens(ctx, "c1", model.TokenTypeRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = svc.RevokeClientTokens(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.Len())
}

func TestTokenTypeFromHint(t *testing.T) {
	assert.Equal(t, model.TokenTypeAccessToken, grants.TokenTypeFromHint("access_token"))
	assert.Equal(t, model.TokenTypeTxToken, grants.TokenTypeFromHint("tx_token"))
	assert.Equal(t, model.TokenTypeRefreshToken, grants.TokenTypeFromHint("refresh_token"))
	assert.Equal(t, model.TokenType(""), grants.TokenTypeFromHint("id_token"))
	assert.Equal(t, model.TokenType(""), grants.TokenTypeFromHint(""))
}

func TestHousekeeperCleanup(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)
	past := time.Now().Add(-time.Minute)

	for _, value := range []string{"e1", "e2", "e3"} {
		issue(t, svc, value, model.Token{
			Type:           model.TokenTypeAccessToken,
			ClientID:       "c1",
			Deletable:      true,
			CreationDate:   past.Add(-time.Hour),
			ExpirationDate: past,
		})
	}
	issue(t, svc, "protected", model.Token{
		Type:           model.TokenTypeRefreshToken,
		ClientID:       "c1",
		CreationDate:   past.Add(-time.Hour),
		ExpirationDate: past,
	})
	issue(t, svc, "live", model.Token{Type: model.TokenTypeAccessToken, ClientID: "c1", Deletable: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	housekeeper := grants.NewHousekeeper(svc, logger, time.Hour, 2)
	assert.Equal(t, int64(3), housekeeper.Cleanup(context.Background()))
	assert.Equal(t, 2, repo.Len())
}

func TestHousekeeperStartStop(t *testing.T) {
	repo := grantstest.NewMemoryTokenRepository()
	svc := grants.NewTokenService(repo)
	issue(t, svc, "expired", model.Token{
		Type:           model.TokenTypeAccessToken,
		ClientID:       "c1",
		Deletable:      true,
		CreationDate:   time.Now().Add(-time.Hour),
		ExpirationDate: time.Now().Add(-time.Minute),
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	housekeeper := grants.NewHousekeeper(svc, logger, time.Hour, 10)
	housekeeper.Start()
	require.Eventually(t, func() bool { return repo.Len() == 0 }, time.Second, 10*time.Millisecond)
	housekeeper.Stop()
}
