package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// LoginRefresher exchanges username and password for a bearer token.
type LoginRefresher struct {
	baseURL    string
	username   string
	password   string
	userAgent  string
	httpClient *http.Client
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// NewLoginRefresher returns a refresher posting to {baseURL}/auth/login.
func NewLoginRefresher(baseURL, username, password, userAgent string) (*LoginRefresher, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("auth: username and password are required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("auth: parse base url: %w", err)
	}
	return &LoginRefresher{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Refresh implements Refresher.
func (l *LoginRefresher) Refresh(ctx context.Context) (string, error) {
	endpoint, err := url.JoinPath(l.baseURL, "auth", "login")
	if err != nil {
		return "", fmt.Errorf("build login url: %w", err)
	}

	payload, err := json.Marshal(loginRequest{Username: l.username, Password: l.password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("login failed: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login response has no token")
	}
	return out.Token, nil
}
