package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public MusicBrainz web service
const DefaultBaseURL = "https://musicbrainz.org/ws/2"

// ErrNotFound is returned when MusicBrainz has no recording for a lookup
var ErrNotFound = errors.New("no musicbrainz recording found")

// Client wraps the MusicBrainz API client
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// Recording represents a MusicBrainz recording
type Recording struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Score int    `json:"score"`
}

// ISRCResponse represents the response from MusicBrainz ISRC API
type ISRCResponse struct {
	ISRC       string      `json:"isrc"`
	Recordings []Recording `json:"recordings"`
}

// SearchResponse represents the response from MusicBrainz recording search API
type SearchResponse struct {
	Count      int         `json:"count"`
	Recordings []Recording `json:"recordings"`
}

// NewClient creates a new MusicBrainz client for baseURL
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("User-Agent", "tunesync/1.0 (https://github.com/garry/tunesync)").
		SetHeader("Accept", "application/json").
		SetQueryParam("fmt", "json").
		// MusicBrainz answers 503 when the one request per second limit is exceeded
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusServiceUnavailable
		})

	return &Client{
		http:   httpClient,
		logger: logger.With().Str("component", "musicbrainz").Logger(),
	}
}

// GetMusicBrainzIDByISRC searches for a track by ISRC and returns the MusicBrainz recording ID
func (c *Client) GetMusicBrainzIDByISRC(ctx context.Context, isrc string) (string, error) {
	if isrc == "" {
		return "", errors.New("ISRC cannot be empty")
	}

	var result ISRCResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("isrc", isrc).
		SetResult(&result).
		Get("/isrc/{isrc}")
	if err := checkResponse(resp, err); err != nil {
		return "", errors.Wrapf(err, "isrc %s", isrc)
	}

	if len(result.Recordings) == 0 {
		return "", errors.Wrapf(ErrNotFound, "isrc %s", isrc)
	}
	return result.Recordings[0].ID, nil
}

// GetMusicBrainzIDByArtistAndTitle searches for a track by artist and title
func (c *Client) GetMusicBrainzIDByArtistAndTitle(ctx context.Context, artist, title string) (string, error) {
	if artist == "" || title == "" {
		return "", errors.New("artist and title cannot be empty")
	}

	query := fmt.Sprintf("artist:\"%s\" AND recording:\"%s\"",
		strings.ReplaceAll(artist, "\"", "\\\""),
		strings.ReplaceAll(title, "\"", "\\\""))

	var result SearchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetQueryParam("limit", "1").
		SetResult(&result).
		Get("/recording/")
	if err := checkResponse(resp, err); err != nil {
		return "", errors.Wrapf(err, "%s - %s", artist, title)
	}

	if len(result.Recordings) == 0 {
		return "", errors.Wrapf(ErrNotFound, "%s - %s", artist, title)
	}

	c.logger.Debug().
		Str("artist", artist).
		Str("title", title).
		Str("mbid", result.Recordings[0].ID).
		Int("score", result.Recordings[0].Score).
		Msg("musicbrainz recording found")
	return result.Recordings[0].ID, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "failed to make request")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.IsError() {
		return errors.Newf("MusicBrainz API returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
