package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// SearchLimit is the number of results requested per search
const SearchLimit = 5

// ErrNotFound is returned when Spotify has no track for a search or id
var ErrNotFound = errors.New("track not found on spotify")

// Client wraps the Spotify API client
type Client struct {
	client *spotify.Client
	logger zerolog.Logger
}

// Song represents a Spotify track
type Song struct {
	ID       string
	Name     string
	Artist   string
	Artists  []string
	Album    string
	Duration int
	URI      string
	ISRC     string
}

// NewClient creates a Spotify client authenticated with the client credentials flow
func NewClient(ctx context.Context, cfg config.SpotifyConfig, logger zerolog.Logger) (*Client, error) {
	credentials := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// Fetch a token up front so bad credentials fail here rather than on the first lookup
	if _, err := credentials.Token(ctx); err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to obtain spotify token"),
			"check SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET")
	}

	return newClient(spotify.New(credentials.Client(ctx), spotify.WithRetry(true)), logger), nil
}

// NewClientWithHTTP creates a client talking to baseURL through httpClient
func NewClientWithHTTP(httpClient *http.Client, baseURL string, logger zerolog.Logger) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return newClient(spotify.New(httpClient, spotify.WithBaseURL(baseURL)), logger)
}

func newClient(client *spotify.Client, logger zerolog.Logger) *Client {
	return &Client{
		client: client,
		logger: logger.With().Str("component", "spotify").Logger(),
	}
}

// SearchTrack returns Spotify's best result for a title and artist
func (c *Client) SearchTrack(ctx context.Context, title, artist string) (*Song, error) {
	queries := []string{
		fmt.Sprintf("track:%s artist:%s", quote(title), quote(artist)),
		strings.TrimSpace(title + " " + artist),
	}

	for _, query := range queries {
		c.logger.Debug().Str("query", query).Msg("searching spotify")
		result, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(SearchLimit))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to search spotify for %s - %s", artist, title)
		}
		if result.Tracks != nil && len(result.Tracks.Tracks) > 0 {
			song := convertTrackToSong(result.Tracks.Tracks[0])
			return &song, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "%s - %s", artist, title)
}

// GetTrack fetches a track by its Spotify id
func (c *Client) GetTrack(ctx context.Context, id string) (*Song, error) {
	track, err := c.client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
			return nil, errors.Wrapf(ErrNotFound, "track %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get spotify track %s", id)
	}

	song := convertTrackToSong(*track)
	return &song, nil
}

// convertTrackToSong converts a Spotify track to our Song struct
func convertTrackToSong(track spotify.FullTrack) Song {
	var artists []string
	for _, a := range track.Artists {
		artists = append(artists, a.Name)
	}

	artist := ""
	if len(artists) > 0 {
		artist = artists[0]
	}

	return Song{
		ID:       string(track.ID),
		Name:     track.Name,
		Artist:   artist,
		Artists:  artists,
		Album:    track.Album.Name,
		Duration: int(track.Duration),
		URI:      string(track.URI),
		ISRC:     track.ExternalIDs["isrc"],
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, "\"", "")
	if strings.ContainsAny(s, " \t") {
		return "\"" + s + "\""
	}
	return s
}
