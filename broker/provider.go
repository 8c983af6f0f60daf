package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/guard-project/guard/internal"
)

// IdentityProvider is the upstream OAuth provider: it authenticates the
// human in their browser and tells us who they are and which guilds they
// claim membership of.
type IdentityProvider interface {
	// AuthorizeURL returns where to send the browser to begin the login,
	// carrying state as the CSRF nonce.
	AuthorizeURL(state, redirectURI string) string
	// ExchangeCode swaps the callback code for an access token.
	ExchangeCode(ctx context.Context, code, redirectURI string) (accessToken string, err error)
	// Identity fetches the user behind this access token.
	Identity(ctx context.Context, accessToken string) (userID int64, username string, err error)
	// Guilds fetches the raw guild membership list for this access token.
	Guilds(ctx context.Context, accessToken string) ([]internal.GuildDescriptor, error)
}

// HTTPProvider talks to a Discord-shaped OAuth provider.
// One provider can be shared among many concurrent logins.
type HTTPProvider struct {
	Client       *http.Client
	BaseURL      string // e.g. https://discord.com/api
	ClientID     string
	ClientSecret string
	Scope        string
}

func (p *HTTPProvider) scope() string {
	if p.Scope == "" {
		return "identify guilds"
	}
	return p.Scope
}

func (p *HTTPProvider) AuthorizeURL(state, redirectURI string) string {
	qs := url.Values{}
	qs.Set("client_id", p.ClientID)
	qs.Set("redirect_uri", redirectURI)
	qs.Set("response_type", "code")
	qs.Set("scope", p.scope())
	qs.Set("state", state)
	return p.BaseURL + "/oauth2/authorize?" + qs.Encode()
}

func (p *HTTPProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ExchangeCode: NewRequest failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := p.do(req, "/oauth2/token")
	if err != nil {
		return "", err
	}
	accessToken := gjson.GetBytes(body, "access_token").Str
	if accessToken == "" {
		return "", &internal.HandlerError{
			StatusCode: 502,
			Err:        fmt.Errorf("provider token response had no access_token"),
		}
	}
	return accessToken, nil
}

func (p *HTTPProvider) Identity(ctx context.Context, accessToken string) (int64, string, error) {
	body, err := p.get(ctx, accessToken, "/users/@me")
	if err != nil {
		return 0, "", err
	}
	parsed := gjson.ParseBytes(body)
	// provider IDs are snowflakes serialised as strings
	return parsed.Get("id").Int(), parsed.Get("username").Str, nil
}

func (p *HTTPProvider) Guilds(ctx context.Context, accessToken string) ([]internal.GuildDescriptor, error) {
	body, err := p.get(ctx, accessToken, "/users/@me/guilds")
	if err != nil {
		return nil, err
	}
	var guilds []internal.GuildDescriptor
	gjson.ParseBytes(body).ForEach(func(_, g gjson.Result) bool {
		guilds = append(guilds, internal.GuildDescriptor{
			ID:   g.Get("id").Int(),
			Name: g.Get("name").Str,
		})
		return true
	})
	return guilds, nil
}

func (p *HTTPProvider) get(ctx context.Context, accessToken, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s: NewRequest failed: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return p.do(req, path)
}

func (p *HTTPProvider) do(req *http.Request, path string) ([]byte, error) {
	res, err := p.Client.Do(req)
	if err != nil {
		return nil, &internal.HandlerError{
			StatusCode: 502,
			Err:        fmt.Errorf("provider %s: request failed: %w", path, err),
		}
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		// surface the provider's own status rather than a blanket 502
		return nil, &internal.HandlerError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("provider %s returned %s", path, res.Status),
		}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: read body: %w", path, err)
	}
	return body, nil
}
