package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/session"
)

// OAuth performs token grants against a deployment's /oauth/token endpoint.
type OAuth struct {
	settings
}

var (
	_ session.Authenticator = (*OAuth)(nil)
	_ session.UserResolver  = (*OAuth)(nil)
)

// NewOAuth creates the token endpoint client.
func NewOAuth(opts ...Option) *OAuth {
	return &OAuth{settings: newSettings(opts)}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (o *OAuth) PasswordGrant(ctx context.Context, d *schema.Deployment, username, password string) (*session.Token, error) {
	return o.grant(ctx, d, tokenRequest{GrantType: "password", Username: username, Password: password})
}

func (o *OAuth) ClientGrant(ctx context.Context, d *schema.Deployment) (*session.Token, error) {
	return o.grant(ctx, d, tokenRequest{GrantType: "client_credentials"})
}

func (o *OAuth) RefreshGrant(ctx context.Context, d *schema.Deployment, refreshToken string) (*session.Token, error) {
	return o.grant(ctx, d, tokenRequest{GrantType: "refresh_token", RefreshToken: refreshToken})
}

func (o *OAuth) grant(ctx context.Context, d *schema.Deployment, body tokenRequest) (*session.Token, error) {
	body.Scope = o.scope
	body.ClientID = o.clientID
	body.ClientSecret = o.clientSecret

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}
	target := strings.TrimRight(d.API, "/") + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := send(o.httpClient, o.logger, req)
	if err != nil {
		// The token endpoint answers bad credentials with 400 invalid_grant.
		if isStatus(err, http.StatusBadRequest) {
			return nil, fmt.Errorf("%s grant rejected: %w: %w", body.GrantType, errs.ErrAuth, err)
		}
		return nil, err
	}

	result := gjson.ParseBytes(resp)
	access := result.Get("access_token").String()
	if access == "" {
		return nil, errs.Invalid("access_token", "missing from %s grant response", body.GrantType)
	}
	return &session.Token{
		AccessToken:  access,
		RefreshToken: result.Get("refresh_token").String(),
	}, nil
}

// CurrentUser looks up the user a token belongs to.
func (o *OAuth) CurrentUser(ctx context.Context, d *schema.Deployment, accessToken string) (*schema.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(d, "users/me", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := send(o.httpClient, o.logger, req)
	if err != nil {
		return nil, err
	}
	return decodeUser(d, gjson.ParseBytes(body)), nil
}
