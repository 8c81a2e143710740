// Package catalog resolves external track identifiers to searchable
// media references using a client-credentials web API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/famomatic/streamgate/internal/media"
)

// Config configures a catalog client. ClientID and ClientSecret are
// required.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL overrides the token endpoint. Default is the public one.
	TokenURL string
	// APIBaseURL overrides the API host. Default is the public one.
	APIBaseURL string

	// HTTPClient performs requests. Default has a 15s timeout.
	HTTPClient *http.Client

	Logger zerolog.Logger

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// ErrTrackNotFound means the track id does not exist in the catalog.
var ErrTrackNotFound = errors.New("catalog track not found")

type trackArtist struct {
	Name string `json:"name"`
}

// Client talks to the catalog API. Safe for concurrent use.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a catalog client.
func New(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://accounts.spotify.com/api/token"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.spotify.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{cfg: cfg, log: cfg.Logger}
}

// Lookup fetches track metadata and returns a search reference built
// from its artists and title.
func (c *Client) Lookup(ctx context.Context, trackID string) (media.Reference, error) {
	token, err := c.token(ctx)
	if err != nil {
		return media.Reference{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/tracks/"+url.PathEscape(trackID), nil)
	if err != nil {
		return media.Reference{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return media.Reference{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return media.Reference{}, fmt.Errorf("catalog track %s: %w", trackID, ErrTrackNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return media.Reference{}, fmt.Errorf("catalog track %s: status %d", trackID, resp.StatusCode)
	}

	var track struct {
		Name    string        `json:"name"`
		Artists []trackArtist `json:"artists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return media.Reference{}, fmt.Errorf("decoding catalog track: %w", err)
	}
	if track.Name == "" {
		return media.Reference{}, fmt.Errorf("catalog track %s: empty title", trackID)
	}

	artists := lo.Map(track.Artists, func(a trackArtist, _ int) string { return a.Name })
	query := track.Name
	if joined := strings.Join(lo.Compact(artists), " "); joined != "" {
		query = joined + " - " + track.Name
	}

	c.log.Debug().Str("track", trackID).Str("query", query).Msg("catalog track resolved")
	return media.Reference{Platform: media.PlatformSearch, ID: query}, nil
}

// token returns a cached access token, refreshing it when within a
// minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.cfg.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog token: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding catalog token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("catalog token: empty access token")
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = c.cfg.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.accessToken, nil
}
