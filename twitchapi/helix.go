// Package twitchapi contains the Helix calls the chat bot needs beyond IRC:
// resolving its own user id and sending whispers, both with the bot's user
// access token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public Helix host.
const DefaultBaseURL = "https://api.twitch.tv"

// ErrWhisperRejected is returned when Twitch refuses a whisper, for instance
// because the recipient blocks whispers from strangers.
var ErrWhisperRejected = errors.New("twitch rejected the whisper")

// HelixClient calls Helix on behalf of the bot account. Token must carry the
// user:manage:whispers scope.
type HelixClient struct {
	ClientID   string
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) endpoint(path string, q url.Values) string {
	base := strings.TrimRight(hc.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u := base + "/helix" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (hc *HelixClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+hc.Token)
	return hc.http().Do(req)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// CurrentUserID returns the id of the account owning Token.
func (hc *HelixClient) CurrentUserID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.endpoint("/users", nil), nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("helix users: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("helix users: decode: %w", err)
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", errors.New("helix users: token has no user")
	}
	return body.Data[0].ID, nil
}

// SendWhisper delivers message from fromUserID to toUserID.
func (hc *HelixClient) SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error {
	if fromUserID == "" || toUserID == "" {
		return errors.New("whisper needs sender and recipient ids")
	}
	payload, err := json.Marshal(struct {
		Message string `json:"message"`
	}{message})
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from_user_id", fromUserID)
	q.Set("to_user_id", toUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.endpoint("/whispers", q), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("helix whispers: %s: %s", resp.Status, string(b))
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s: %s", ErrWhisperRejected, resp.Status, string(b))
	}
}
