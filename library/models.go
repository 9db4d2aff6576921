package library

import (
	"strings"
	"time"
)

// Categories with special meaning to the generator and the resolver
const (
	CategoryLibrary   = "Library"
	CategoryRecentAdd = "RecentAdd"
	CategoryOld       = "Old"
	CategoryUnmatched = "Unmatched"
)

// Spotify URI statuses
const (
	StatusMatched            = "matched"
	StatusManualMatch        = "manual_match"
	StatusMismatchAccepted   = "mismatch_accepted"
	StatusMismatch           = "mismatch"
	StatusUnmatched          = "unmatched"
	StatusNotFoundInSpotify  = "not_found_in_spotify"
	StatusConfirmedNoSpotify = "confirmed_no_spotify"
)

// Track is one song of the local catalog
type Track struct {
	ID                 uint   `gorm:"primaryKey"`
	Song               string `gorm:"index:idx_tracks_song_artist"`
	Artist             string `gorm:"index:idx_tracks_song_artist"`
	Album              string
	Location           string
	Category           string `gorm:"index"`
	PlayCount          int
	LastPlayDT         *time.Time `gorm:"index"`
	DateAdded          *time.Time
	TotalTime          int // milliseconds
	ArtistCommonName   string
	MostRecentPlaylist string
	MusicBrainzID      string
	// Played only means something inside a single generation run
	Played      bool
	SpotifyURIs []SpotifyURI `gorm:"constraint:OnDelete:CASCADE"`
}

// CommonName returns the artist grouping key used for repeat spacing
func (t *Track) CommonName() string {
	if t.ArtistCommonName != "" {
		return t.ArtistCommonName
	}
	return strings.ToLower(strings.TrimSpace(t.Artist))
}

// DurationSeconds returns the track length rounded to seconds, or -1 when unknown
func (t *Track) DurationSeconds() int {
	if t.TotalTime <= 0 {
		return -1
	}
	return (t.TotalTime + 500) / 1000
}

// SpotifyURI links a track to a Spotify catalog entry and records how sure we are
type SpotifyURI struct {
	ID        uint   `gorm:"primaryKey"`
	TrackID   uint   `gorm:"index"`
	URI       string `gorm:"index"`
	Status    string `gorm:"index"`
	CreatedAt time.Time
}

// IsGood reports whether the status confirms the link
func (u SpotifyURI) IsGood() bool {
	return IsGoodStatus(u.Status)
}

// IsGoodStatus reports whether status confirms a link
func IsGoodStatus(status string) bool {
	return status == StatusMatched || status == StatusManualMatch
}

// PlaylistEntry is one position of a generated playlist
type PlaylistEntry struct {
	ID               uint   `gorm:"primaryKey"`
	PlaylistName     string `gorm:"uniqueIndex:idx_playlist_position"`
	Username         string `gorm:"uniqueIndex:idx_playlist_position;index"`
	Position         int    `gorm:"uniqueIndex:idx_playlist_position"`
	RunID            string `gorm:"index"`
	TrackID          uint
	Artist           string
	Song             string
	Category         string
	PlayCount        int
	ArtistCommonName string
	Location         string
	TotalTime        int
	CreatedAt        time.Time `gorm:"index"`
}

// Playlist is a generated playlist as stored
type Playlist struct {
	Name      string
	Username  string
	RunID     string
	CreatedAt time.Time
	Entries   []PlaylistEntry
}
