package match

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

const trackURIPrefix = "spotify:track:"

var (
	ErrInvalidURI = errors.New("not a spotify track uri or url")

	trackIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)
	localePattern  = regexp.MustCompile(`^intl-[a-z]{2}(?:-[a-z]{2})?$`)
)

// ParseSpotifyURI accepts "spotify:track:<id>", an open.spotify.com track URL
// (with an optional intl-xx segment and query string) or a bare 22 character
// id, and returns the canonical "spotify:track:<id>" form.
func ParseSpotifyURI(input string) (string, error) {
	input = strings.TrimSpace(input)

	var id string
	switch {
	case strings.HasPrefix(input, trackURIPrefix):
		id = strings.TrimPrefix(input, trackURIPrefix)
	case strings.Contains(input, "open.spotify.com"):
		parsed, err := parseTrackURL(input)
		if err != nil {
			return "", err
		}
		id = parsed
	default:
		id = input
	}

	if !trackIDPattern.MatchString(id) {
		return "", errors.Wrapf(ErrInvalidURI, "%q", input)
	}
	return trackURIPrefix + id, nil
}

func parseTrackURL(input string) (string, error) {
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidURI, "%q: %v", input, err)
	}
	if strings.ToLower(u.Hostname()) != "open.spotify.com" {
		return "", errors.Wrapf(ErrInvalidURI, "%q", input)
	}

	var segments []string
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == "" || localePattern.MatchString(segment) {
			continue
		}
		segments = append(segments, segment)
	}
	if len(segments) != 2 || segments[0] != "track" {
		return "", errors.Wrapf(ErrInvalidURI, "%q is not a track url", input)
	}
	return segments[1], nil
}

// TrackID returns the id part of a canonical track uri
func TrackID(uri string) string {
	return strings.TrimPrefix(uri, trackURIPrefix)
}
