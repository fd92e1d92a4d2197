// Package hubspot implements the HubSpot OAuth provider: authorization
// URL construction, authorization-code exchange, and the contacts load.
package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/requester"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Name is the provider's route segment.
const Name = "hubspot"

// ErrTokenExchangeFailed means the provider rejected the authorization
// code or returned a malformed token response. Authorization codes are
// single-use, so the exchange is never retried.
var ErrTokenExchangeFailed = errors.New("hubspot: token exchange failed")

// ExchangeError wraps ErrTokenExchangeFailed with the upstream status.
type ExchangeError struct {
	StatusCode int
	cause      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("hubspot: token exchange failed with status %d: %v", e.StatusCode, e.cause)
}

func (e *ExchangeError) Unwrap() error { return ErrTokenExchangeFailed }

// Provider wraps the oauth2 client configuration for HubSpot.
type Provider struct {
	oauth2Config *oauth2.Config
	requester    *requester.CRMRequester
}

func NewProvider(cfg *config.HubSpotConfig) *Provider {
	oauth2Cfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return &Provider{
		oauth2Config: oauth2Cfg,
		requester:    requester.NewCRMRequester(cfg.APIBaseURL),
	}
}

// AuthCodeURL builds the authorization URL carrying the encoded state.
// No network call is made here.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange swaps an authorization code for the provider's token response
// and returns the credential payload as JSON.
func (p *Provider) Exchange(ctx context.Context, code string) ([]byte, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			logger.Warn("token exchange rejected",
				zap.Int("status", retrieveErr.Response.StatusCode),
			)
			return nil, &ExchangeError{StatusCode: retrieveErr.Response.StatusCode, cause: err}
		}
		return nil, &ExchangeError{StatusCode: http.StatusBadGateway, cause: err}
	}

	payload, err := json.Marshal(credentialFromToken(token))
	if err != nil {
		return nil, &ExchangeError{StatusCode: http.StatusBadGateway, cause: err}
	}
	return payload, nil
}

// Credential is the provider's token response payload as handed to the
// browser-side flow.
type Credential struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func credentialFromToken(token *oauth2.Token) Credential {
	cred := Credential{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if v, ok := token.Extra("expires_in").(float64); ok {
		cred.ExpiresIn = int64(v)
	}
	if v, ok := token.Extra("scope").(string); ok {
		cred.Scope = v
	}
	return cred
}
