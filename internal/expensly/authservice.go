package expensly

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/expensly/expensly-go/pkg/auth"
	pkghttp "github.com/expensly/expensly-go/pkg/http"
)

const DestinationExpenslyAPI pkghttp.Destination = "expensly"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyTaken  = errors.New("email is already taken")
	ErrUnauthenticated    = errors.New("not authenticated")
)

type (
	// AuthService talks to the auth endpoints of the Expensly API. Its
	// client must not carry the authenticated pipeline: these endpoints rely
	// on the ambient refresh cookie, and refresh recursing into itself on a
	// 401 would never terminate.
	AuthService struct {
		client pkghttp.Client
	}

	Credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	SignUpData struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	tokenResponse struct {
		AccessToken string `json:"accessToken"`
	}
)

func NewAuthService(client pkghttp.Client) *AuthService {
	return &AuthService{client: client}
}

// Login exchanges credentials for an access token. The response also sets
// the http-only refresh cookie on the client's jar.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (auth.TokenPair, error) {
	var result tokenResponse
	resp, err := s.client.NewRequest(ctx).
		SetBody(creds).
		SetResult(&result).
		Post("/auth/login")
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("request auth.login: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return auth.TokenPair{}, ErrInvalidCredentials
	case resp.StatusCode() != http.StatusOK:
		return auth.TokenPair{}, fmt.Errorf("request auth.login: invalid status code %d", resp.StatusCode())
	}

	return auth.TokenPair{AccessToken: result.AccessToken}, nil
}

func (s *AuthService) SignUp(ctx context.Context, data SignUpData) (auth.TokenPair, error) {
	var result tokenResponse
	resp, err := s.client.NewRequest(ctx).
		SetBody(data).
		SetResult(&result).
		Post("/auth/signup")
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("request auth.signup: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusConflict:
		return auth.TokenPair{}, ErrEmailAlreadyTaken
	case resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK:
		return auth.TokenPair{}, fmt.Errorf("request auth.signup: invalid status code %d", resp.StatusCode())
	}

	return auth.TokenPair{AccessToken: result.AccessToken}, nil
}

// Refresh is a bodyless POST: the ambient refresh cookie identifies the
// caller, and the server rotates it on success. Satisfies auth.RefreshFunc.
func (s *AuthService) Refresh(ctx context.Context) (string, error) {
	var result tokenResponse
	resp, err := s.client.NewRequest(ctx).
		SetResult(&result).
		Post("/auth/refresh")
	if err != nil {
		return "", fmt.Errorf("request auth.refresh: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return "", ErrUnauthenticated
	case resp.StatusCode() != http.StatusOK:
		return "", fmt.Errorf("request auth.refresh: invalid status code %d", resp.StatusCode())
	}
	if result.AccessToken == "" {
		return "", errors.New("auth.refresh response carries no access token")
	}

	return result.AccessToken, nil
}

// Logout invalidates the current refresh credential. Satisfies
// auth.SessionRevoker together with LogoutAll.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.revoke(ctx, "/auth/logout", "auth.logout")
}

// LogoutAll invalidates every refresh credential of the current user.
func (s *AuthService) LogoutAll(ctx context.Context) error {
	return s.revoke(ctx, "/auth/logout-all", "auth.logoutAll")
}

func (s *AuthService) revoke(ctx context.Context, path, name string) error {
	resp, err := s.client.NewRequest(ctx).Post(path)
	if err != nil {
		return fmt.Errorf("request %s: %w", name, err)
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("request %s: invalid status code %d", name, resp.StatusCode())
	}

	return nil
}

// Ping checks API availability, e.g. while waiting for it on startup.
func (s *AuthService) Ping(ctx context.Context) error {
	resp, err := s.client.NewRequest(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("request healthz: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("request healthz: invalid status code %d", resp.StatusCode())
	}

	return nil
}
