// Package clients holds dynamically registered downstream clients.
//
// Registration is trust-on-first-use by design: any client may register and
// receives an opaque client_id with no secret and no vetting. The gateway
// serves first-party desktop clients over loopback redirects, where a
// client secret adds nothing; tightening this is a product decision.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record"
)

// Registration is the stored descriptor of a downstream client.
type Registration struct {
	ClientID     string    `json:"clientId"`
	ClientName   string    `json:"clientName,omitempty"`
	RedirectURIs []string  `json:"redirectUris,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
}

type Registry struct {
	store   record.Store
	ttl     time.Duration
	nowTime func() time.Time
}

func NewRegistry(store record.Store, ttl time.Duration) *Registry {
	return &Registry{store: store, ttl: ttl, nowTime: time.Now}
}

// Register issues a new opaque client_id for the given descriptor.
func (r *Registry) Register(ctx context.Context, name string, redirectURIs []string) (*Registration, error) {
	reg := &Registration{
		ClientID:     uuid.New().String(),
		ClientName:   name,
		RedirectURIs: redirectURIs,
		IssuedAt:     r.nowTime(),
	}

	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("[Registry.Register] marshal: %w", err)
	}
	if err := r.store.Put(ctx, record.ClientKey(reg.ClientID), payload, r.ttl); err != nil {
		return nil, fmt.Errorf("[Registry.Register] store: %w", err)
	}
	return reg, nil
}

// Get returns the registration for a client_id, or ErrInvalidClient.
func (r *Registry) Get(ctx context.Context, clientID string) (*Registration, error) {
	payload, err := r.store.Get(ctx, record.ClientKey(clientID))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrInvalidClient, "[Registry.Get] unknown client %q", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("[Registry.Get] store: %w", err)
	}

	var reg Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return nil, fmt.Errorf("[Registry.Get] unmarshal: %w", err)
	}
	return &reg, nil
}
