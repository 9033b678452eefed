package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Profile is what a federated provider tells us about the person who just
// signed in. ID is the provider's stable subject identifier; DisplayName is
// informational only and may change or collide between people.
type Profile struct {
	Provider    string
	ID          string
	DisplayName string
}

// Provider runs one OAuth 2.0 authorization-code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the browser to AuthURL(state).
//  2. The user approves (or denies) at the provider.
//  3. The provider redirects back to the callback URL with a "code".
//  4. Exchange trades the code for an access token server-to-server and
//     fetches the user's profile with it.
//
// The state value round-trips through the provider and is compared with a
// cookie set in step 1, which blocks login CSRF.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// ErrProfileInvalid means the provider answered but the profile had no
// usable subject identifier.
var ErrProfileInvalid = errors.New("auth: provider returned an invalid profile")

// oauthProvider holds what GitHub and Google have in common: an
// oauth2.Config plus a profile endpoint.
type oauthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
}

func (p *oauthProvider) Name() string { return p.name }

func (p *oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// fetchProfile exchanges the code and decodes the profile endpoint's JSON
// into dst.
func (p *oauthProvider) fetchProfile(ctx context.Context, code string, dst any) error {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("auth: exchanging %s OAuth code: %w", p.name, err)
	}

	// Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("auth: building %s profile request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling %s profile API: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: %s profile API returned status %d", p.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding %s profile: %w", p.name, err)
	}
	return nil
}

// =========================================================================
// GITHUB
// =========================================================================

type githubUser struct {
	ID    int64  `json:"id"`    // stable, never changes
	Login string `json:"login"` // can be renamed by the user
	Name  string `json:"name"`
}

// GitHubProvider signs users in with GitHub.
type GitHubProvider struct {
	oauthProvider
}

// NewGitHubProvider requests "read:user", enough to read the public profile.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{oauthProvider{
		name: "github",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     github.Endpoint,
		},
		userInfoURL: "https://api.github.com/user",
	}}
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	var u githubUser
	if err := p.fetchProfile(ctx, code, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, ErrProfileInvalid
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Profile{
		Provider:    p.name,
		ID:          strconv.FormatInt(u.ID, 10),
		DisplayName: name,
	}, nil
}

// =========================================================================
// GOOGLE
// =========================================================================

type googleUser struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
}

// GoogleProvider signs users in with Google using the "profile" scope only.
type GoogleProvider struct {
	oauthProvider
}

func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{oauthProvider{
		name: "google",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	}}
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	var u googleUser
	if err := p.fetchProfile(ctx, code, &u); err != nil {
		return nil, err
	}
	if u.Sub == "" {
		return nil, ErrProfileInvalid
	}
	return &Profile{
		Provider:    p.name,
		ID:          u.Sub,
		DisplayName: u.Name,
	}, nil
}

// NewProvider builds the provider named by name ("google" or "github").
func NewProvider(name, clientID, clientSecret, callbackURL string) (Provider, error) {
	switch name {
	case "google":
		return NewGoogleProvider(clientID, clientSecret, callbackURL), nil
	case "github":
		return NewGitHubProvider(clientID, clientSecret, callbackURL), nil
	default:
		return nil, fmt.Errorf("auth: unknown OAuth provider %q", name)
	}
}
