// Package profile reads the signed-in farmer's profile from the AgroSpeak
// backend.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// ErrUnauthorized is returned when the token is missing or rejected.
var ErrUnauthorized = errors.New("profile: unauthorized")

// DefaultRole is used when the backend leaves role empty.
const DefaultRole = "Farmer"

// Profile is the farmer's account details.
type Profile struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

// Client calls the profile endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a profile client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Get fetches the profile for the bearer token.
func (c *Client) Get(ctx context.Context, token string) (*Profile, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/user/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("profile: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fallback.Errorf(fallback.Status, "profile: status %d: %s", resp.StatusCode, body)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fallback.Wrap(fallback.Parse, fmt.Errorf("profile: decoding: %w", err))
	}
	if p.Role == "" {
		p.Role = DefaultRole
	}
	return &p, nil
}
