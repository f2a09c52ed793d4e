// Package osuapi is the slice of the osu! API needed to link an account: the
// authorization-code flow (authorize URL and token exchange) and the
// "current user" resource.
package osuapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public osu! host.
const DefaultBaseURL = "https://osu.ppy.sh"

// ErrUpstream marks failures talking to osu!, whether transport errors or
// non-success responses. The wrapped message carries status and body for logs
// and must not be shown to end users.
var ErrUpstream = errors.New("osu upstream request failed")

// User is the identity returned by /api/v2/me.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Client talks to one osu! OAuth application.
type Client struct {
	oauth   *oauth2.Config
	baseURL string
	http    *http.Client
}

// New builds a client. baseURL defaults to DefaultBaseURL and hc to
// http.DefaultClient.
func New(clientID, clientSecret, redirectURI, baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
				// osu! expects client credentials in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL: baseURL,
		http:    hc,
	}
}

// AuthorizeURL returns the user-facing authorization URL carrying state.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrUpstream, err)
	}
	return tok, nil
}

// Me fetches the user owning tok.
func (c *Client) Me(ctx context.Context, tok *oauth2.Token) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/me", nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: me: %v", ErrUpstream, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: me: %s: %s", ErrUpstream, resp.Status, string(b))
	}
	var raw struct {
		ID       *int64  `json:"id"`
		Username *string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: me: decode: %v", ErrUpstream, err)
	}
	if raw.ID == nil || raw.Username == nil {
		return nil, fmt.Errorf("%w: me: response missing id or username", ErrUpstream)
	}
	return &User{ID: *raw.ID, Username: *raw.Username}, nil
}

// Identify runs the full exchange: code to token, token to user.
func (c *Client) Identify(ctx context.Context, code string) (*User, error) {
	tok, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.Me(ctx, tok)
}
