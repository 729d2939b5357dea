package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/envelope"
	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record/recordfake"
	"github.com/saasbridge/gateway/token"
	"github.com/saasbridge/gateway/upstream"
)

func newSealer(t *testing.T) *envelope.Service {
	t.Helper()
	keys, err := envelope.NewLocalKeyService("test-master-secret")
	require.NoError(t, err)
	return envelope.NewService(keys)
}

func testIdentity() *upstream.Identity {
	return &upstream.Identity{
		AccessToken:  "upstream-access",
		RefreshToken: "upstream-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		Email:        "user@example.com",
		SubjectID:    "subject-1",
	}
}

func TestMintAndResolve(t *testing.T) {
	store := recordfake.New()
	m := token.NewManager(store, newSealer(t), 7*24*time.Hour, 7*24*time.Hour)
	ctx := context.Background()

	tokenStr, rec, err := m.Mint(ctx, testIdentity())
	require.NoError(t, err)
	require.NotEmpty(t, tokenStr)
	require.NotEmpty(t, rec.OwnerSessionID)
	require.Equal(t, "user@example.com", rec.OwnerEmail)

	identity, resolved, err := m.Resolve(ctx, tokenStr)
	require.NoError(t, err)
	require.Equal(t, "upstream-access", identity.AccessToken)
	require.Equal(t, "upstream-refresh", identity.RefreshToken)
	require.Equal(t, rec.OwnerSessionID, resolved.OwnerSessionID)
}

func TestResolveUnknownToken(t *testing.T) {
	m := token.NewManager(recordfake.New(), newSealer(t), time.Hour, time.Hour)

	_, _, err := m.Resolve(context.Background(), "no-such-token")
	require.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestResolveExpiredRecord(t *testing.T) {
	store := recordfake.New()
	store.KeepExpired = true

	now := time.Now()
	clock := func() time.Time { return now }
	store.NowTime = clock

	m := token.NewManager(store, newSealer(t), time.Hour, 2*time.Hour, token.WithNowTime(func() time.Time { return now }))
	ctx := context.Background()

	tokenStr, _, err := m.Mint(ctx, testIdentity())
	require.NoError(t, err)

	// Past the record TTL the token is invalid even though the upstream
	// identity inside might still be live.
	now = now.Add(61 * time.Minute)
	_, _, err = m.Resolve(ctx, tokenStr)
	require.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestResolveMaxSessionAge(t *testing.T) {
	store := recordfake.New()
	now := time.Now()
	store.NowTime = func() time.Time { return now }

	m := token.NewManager(store, newSealer(t), 10*time.Hour, time.Hour, token.WithNowTime(func() time.Time { return now }))
	ctx := context.Background()

	tokenStr, _, err := m.Mint(ctx, testIdentity())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, _, err = m.Resolve(ctx, tokenStr)
	require.ErrorIs(t, err, errors.ErrReauthenticationRequired)
}

func TestSaveUpdatesBlobWithoutReissuing(t *testing.T) {
	store := recordfake.New()
	m := token.NewManager(store, newSealer(t), 7*24*time.Hour, 7*24*time.Hour)
	ctx := context.Background()

	tokenStr, rec, err := m.Mint(ctx, testIdentity())
	require.NoError(t, err)

	refreshed := testIdentity()
	refreshed.AccessToken = "rotated-access"
	refreshed.ExpiresAt = time.Now().Add(2 * time.Hour)

	require.NoError(t, m.Save(ctx, rec.OwnerSessionID, refreshed))

	// Same bearer token now yields the refreshed identity.
	identity, after, err := m.Resolve(ctx, tokenStr)
	require.NoError(t, err)
	require.Equal(t, "rotated-access", identity.AccessToken)
	require.Equal(t, rec.ExpiresAt.Unix(), after.ExpiresAt.Unix())
}

func TestSaveUnknownSession(t *testing.T) {
	m := token.NewManager(recordfake.New(), newSealer(t), time.Hour, time.Hour)

	err := m.Save(context.Background(), "missing-session", testIdentity())
	require.Error(t, err)
}

func TestRevoke(t *testing.T) {
	store := recordfake.New()
	m := token.NewManager(store, newSealer(t), time.Hour, time.Hour)
	ctx := context.Background()

	tokenStr, rec, err := m.Mint(ctx, testIdentity())
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, tokenStr))

	_, _, err = m.Resolve(ctx, tokenStr)
	require.ErrorIs(t, err, errors.ErrInvalidToken)

	// The session index is gone too: persisting a refresh now fails.
	require.Error(t, m.Save(ctx, rec.OwnerSessionID, testIdentity()))
}
