package api

import (
	"context"
	"net/http"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	OrgTags  string `json:"orgTags,omitempty"`
}

// AuthResponse is returned by login, register and me. Tokens are only present for the first two.
type AuthResponse struct {
	AccessToken      string `json:"accessToken,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	TokenType        string `json:"tokenType,omitempty"`
	Username         string `json:"username,omitempty"`
	Role             string `json:"role,omitempty"`
	OrgTags          string `json:"orgTags,omitempty"`
	ExpiresInSeconds int64  `json:"expiresInSeconds,omitempty"`
}

// Login exchanges credentials for an access token, which the client keeps for later calls.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

// Me validates the current token and returns the user profile.
func (c *Client) Me(ctx context.Context) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Logout invalidates the session server-side. The local token is dropped even when the call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}
