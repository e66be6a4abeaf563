package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ExternalUser is the profile returned by an external sign-in provider.
type ExternalUser struct {
	ProviderID    string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider is an OAuth sign-in provider.
type Provider interface {
	ID() string
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*ExternalUser, error)
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client

	// Overrides for tests
	Endpoint    *oauth2.Endpoint
	UserInfoURL string
}

// GoogleProvider signs users in with their Google account.
type GoogleProvider struct {
	config      *oauth2.Config
	httpClient  *http.Client
	userInfoURL string
}

func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient:  httpClient,
		userInfoURL: userInfoURL,
	}, nil
}

func (p *GoogleProvider) ID() string {
	return "google.com"
}

// AuthorizationURL returns the consent page URL carrying state. The user is
// always asked to pick an account.
func (p *GoogleProvider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the user's Google profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ExternalUser, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, Wrap(CodeOperationNotAllowed, fmt.Errorf("failed to exchange code: %w", err))
	}

	resp, err := p.config.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return nil, Wrap(CodeNetworkFailed, fmt.Errorf("failed to get user info: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, Wrap(CodeNetworkFailed, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode))
	}

	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, Wrap(CodeNetworkFailed, fmt.Errorf("failed to decode user info: %w", err))
	}
	if info.ID == "" || info.Email == "" {
		return nil, NewError(CodeInvalidEmail)
	}

	return &ExternalUser{
		ProviderID:    p.ID(),
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
	}, nil
}
