package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/saasbridge/gateway/envelope"
	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record"
)

// pendingFlowState is created when a downstream client starts
// authorization and consumed exactly once by the callback handler. It is
// keyed by the upstream state value and carries the original downstream
// state so the final redirect can recover the caller's own `state`.
type pendingFlowState struct {
	StateID          string    `json:"stateId"`
	ClientID         string    `json:"clientId"`
	RedirectURI      string    `json:"redirectUri"`
	CodeChallenge    string    `json:"codeChallenge"`
	Scope            string    `json:"scope"`
	DownstreamState  string    `json:"downstreamState"`
	UpstreamVerifier string    `json:"upstreamVerifier"`
	UpstreamNonce    string    `json:"upstreamNonce"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (s *Server) putFlowState(ctx context.Context, flow *pendingFlowState) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("[Server.putFlowState] marshal: %w", err)
	}
	if err := s.store.Put(ctx, record.StateKey(flow.StateID), payload, s.flowTTL); err != nil {
		return fmt.Errorf("[Server.putFlowState] store: %w", err)
	}
	return nil
}

// consumeFlowState atomically reads and deletes the pending flow. Absent
// or past its deadline means the flow expired and must be restarted.
func (s *Server) consumeFlowState(ctx context.Context, upstreamState string) (*pendingFlowState, error) {
	payload, err := s.store.GetDel(ctx, record.StateKey(upstreamState))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrFlowExpired, "[Server.consumeFlowState] unknown state")
	}
	if err != nil {
		return nil, fmt.Errorf("[Server.consumeFlowState] store: %w", err)
	}

	var flow pendingFlowState
	if err := json.Unmarshal(payload, &flow); err != nil {
		return nil, fmt.Errorf("[Server.consumeFlowState] unmarshal: %w", err)
	}
	if s.nowTime().After(flow.ExpiresAt) {
		return nil, errors.Wrapf(errors.ErrFlowExpired, "[Server.consumeFlowState] state expired")
	}
	return &flow, nil
}

// authorizationCode is single-use: redemption is a get-and-delete, so a
// retried exchange always fails the second time. The identity it carries
// is envelope-encrypted; it contains the upstream refresh token.
type authorizationCode struct {
	Code          string           `json:"code"`
	IdentityBlob  *envelope.Sealed `json:"identityBlob"`
	ClientID      string           `json:"clientId"`
	RedirectURI   string           `json:"redirectUri"`
	CodeChallenge string           `json:"codeChallenge"`
	Scope         string           `json:"scope"`
	ExpiresAt     time.Time        `json:"expiresAt"`
}

func (s *Server) putAuthCode(ctx context.Context, code *authorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("[Server.putAuthCode] marshal: %w", err)
	}
	if err := s.store.Put(ctx, record.CodeKey(code.Code), payload, s.codeTTL); err != nil {
		return fmt.Errorf("[Server.putAuthCode] store: %w", err)
	}
	return nil
}

func (s *Server) redeemAuthCode(ctx context.Context, code string) (*authorizationCode, error) {
	payload, err := s.store.GetDel(ctx, record.CodeKey(code))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrInvalidGrant, "[Server.redeemAuthCode] unknown or replayed code")
	}
	if err != nil {
		return nil, fmt.Errorf("[Server.redeemAuthCode] store: %w", err)
	}

	var authCode authorizationCode
	if err := json.Unmarshal(payload, &authCode); err != nil {
		return nil, fmt.Errorf("[Server.redeemAuthCode] unmarshal: %w", err)
	}
	if s.nowTime().After(authCode.ExpiresAt) {
		return nil, errors.Wrapf(errors.ErrInvalidGrant, "[Server.redeemAuthCode] code expired")
	}
	return &authCode, nil
}
