package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"floor-dispatch-service/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserDisabled = errors.New("user disabled")
)

// AuthService resolves bearer tokens against the external auth service.
type AuthService struct {
	authURL string
	client  *http.Client
}

type AuthUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Login       string   `json:"login"`
	Enabled     bool     `json:"enabled"`
}

func NewAuthService(authURL string) *AuthService {
	return &AuthService{
		authURL: authURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (u AuthUser) Worker() model.Worker {
	return model.Worker{
		ID:    u.ID,
		Name:  u.Name,
		Admin: slices.Contains(u.Permissions, "admin"),
	}
}

// ValidateToken calls GET {authURL}/users/current with the token and returns
// the worker it belongs to.
func (a *AuthService) ValidateToken(ctx context.Context, token string) (model.Worker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/current", a.authURL), nil)
	if err != nil {
		return model.Worker{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return model.Worker{}, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Worker{}, ErrInvalidToken
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return model.Worker{}, err
	}
	if !user.Enabled {
		return model.Worker{}, ErrUserDisabled
	}
	if user.ID == "" {
		return model.Worker{}, ErrInvalidToken
	}
	return user.Worker(), nil
}
