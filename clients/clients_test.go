package clients_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/clients"
	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record/recordfake"
)

func TestRegisterAndGet(t *testing.T) {
	registry := clients.NewRegistry(recordfake.New(), 30*24*time.Hour)

	reg, err := registry.Register(context.Background(), "Test Client", []string{"http://127.0.0.1:8123/cb"})
	require.NoError(t, err)
	require.NotEmpty(t, reg.ClientID)
	require.False(t, reg.IssuedAt.IsZero())

	got, err := registry.Get(context.Background(), reg.ClientID)
	require.NoError(t, err)
	require.Equal(t, "Test Client", got.ClientName)
	require.Equal(t, []string{"http://127.0.0.1:8123/cb"}, got.RedirectURIs)
}

func TestGetUnknownClient(t *testing.T) {
	registry := clients.NewRegistry(recordfake.New(), 30*24*time.Hour)

	_, err := registry.Get(context.Background(), "no-such-client")
	require.ErrorIs(t, err, errors.ErrInvalidClient)
}

func TestRegistrationsGetDistinctIDs(t *testing.T) {
	registry := clients.NewRegistry(recordfake.New(), 30*24*time.Hour)

	first, err := registry.Register(context.Background(), "A", nil)
	require.NoError(t, err)
	second, err := registry.Register(context.Background(), "B", nil)
	require.NoError(t, err)
	require.NotEqual(t, first.ClientID, second.ClientID)
}
