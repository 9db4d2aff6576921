package library

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrTrackNotFound = errors.New("track not found")
	ErrURINotFound   = errors.New("spotify uri not found")
	// ErrPlaylistConflict is returned when another writer replaced the same playlist concurrently
	ErrPlaylistConflict = errors.New("playlist was modified concurrently")
)

// Store is the Track Store: the tracks table, their Spotify URIs and generated playlists
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	locks  *keyedMutex
}

// Open connects to the database with the given driver ("postgres" or "sqlite")
func Open(driver, dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Newf("unsupported database driver %q", driver)
	}

	gormLog := logger.With().Str("component", "gorm").Logger()
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(&gormLog, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s database", driver)
	}

	if driver == DriverSQLite {
		// sqlite serialises writers anyway, and ":memory:" databases are per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to access sqlite connection pool")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// NewStore creates a store on top of an open gorm connection
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		locks:  &keyedMutex{locks: make(map[string]*sync.Mutex)},
	}
}

// Migrate creates or updates the schema
func (s *Store) Migrate(ctx context.Context) error {
	models := []interface{}{
		&Track{},
		&SpotifyURI{},
		&PlaylistEntry{},
	}

	for _, model := range models {
		if err := s.db.WithContext(ctx).AutoMigrate(model); err != nil {
			return errors.Wrapf(err, "failed to migrate %T", model)
		}
	}

	s.logger.Debug().Msg("database migration completed")
	return nil
}

// Transaction runs fn against a store bound to a single transaction
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger, locks: s.locks})
	})
}

// AllTracks loads the whole catalog ordered by id
func (s *Store) AllTracks(ctx context.Context) ([]Track, error) {
	var tracks []Track
	if err := s.db.WithContext(ctx).Order("id").Find(&tracks).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load tracks")
	}
	return tracks, nil
}

// AllTracksWithURIs loads the whole catalog with the Spotify URI records attached
func (s *Store) AllTracksWithURIs(ctx context.Context) ([]Track, error) {
	var tracks []Track
	if err := s.db.WithContext(ctx).Preload("SpotifyURIs").Order("id").Find(&tracks).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load tracks with uris")
	}
	return tracks, nil
}

// TracksByCategory loads every track of one category
func (s *Store) TracksByCategory(ctx context.Context, category string) ([]Track, error) {
	var tracks []Track
	if err := s.db.WithContext(ctx).Where("category = ?", category).Order("id").Find(&tracks).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load tracks of category %s", category)
	}
	return tracks, nil
}

// TracksWithoutURIs loads tracks that were never correlated with Spotify
func (s *Store) TracksWithoutURIs(ctx context.Context) ([]Track, error) {
	var tracks []Track
	err := s.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM spotify_uris WHERE spotify_uris.track_id = tracks.id)").
		Order("id").
		Find(&tracks).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load uncorrelated tracks")
	}
	return tracks, nil
}

// Track loads one track with its Spotify URIs
func (s *Store) Track(ctx context.Context, id uint) (*Track, error) {
	var track Track
	err := s.db.WithContext(ctx).Preload("SpotifyURIs").First(&track, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrTrackNotFound, "track %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load track %d", id)
	}
	return &track, nil
}

// UpsertTrack inserts the track or updates every column of an existing one
func (s *Store) UpsertTrack(ctx context.Context, track *Track) error {
	if err := s.db.WithContext(ctx).Omit("SpotifyURIs").Save(track).Error; err != nil {
		return errors.Wrapf(err, "failed to save track %s - %s", track.Artist, track.Song)
	}
	return nil
}

// UpdateCategory moves the given tracks into category
func (s *Store) UpdateCategory(ctx context.Context, ids []uint, category string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&Track{}).Where("id IN ?", ids).Update("category", category).Error
	if err != nil {
		return errors.Wrapf(err, "failed to move %d tracks to %s", len(ids), category)
	}
	return nil
}

// ResetPlayed clears the per-run played flag on every track
func (s *Store) ResetPlayed(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&Track{}).Where("played = ?", true).Update("played", false).Error
	if err != nil {
		return errors.Wrap(err, "failed to reset played flags")
	}
	return nil
}

// DeleteTracks removes tracks and their Spotify URI records
func (s *Store) DeleteTracks(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx)
	if err := db.Where("track_id IN ?", ids).Delete(&SpotifyURI{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete spotify uris")
	}
	if err := db.Where("id IN ?", ids).Delete(&Track{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete tracks")
	}
	return nil
}

// RecentlyPlayed returns the n most recently played tracks, newest first
func (s *Store) RecentlyPlayed(ctx context.Context, n int) ([]Track, error) {
	var tracks []Track
	err := s.db.WithContext(ctx).
		Where("last_play_dt IS NOT NULL").
		Order("last_play_dt DESC").
		Order("id DESC").
		Limit(n).
		Find(&tracks).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load recently played tracks")
	}
	return tracks, nil
}

// LatestPlaylist returns the most recently generated playlist of a user, or nil when there is none
func (s *Store) LatestPlaylist(ctx context.Context, username string) (*Playlist, error) {
	db := s.db.WithContext(ctx)

	var latest PlaylistEntry
	err := db.Where("username = ?", username).Order("created_at DESC").Order("id DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find latest playlist")
	}

	var entries []PlaylistEntry
	err = db.Where("playlist_name = ? AND username = ?", latest.PlaylistName, username).Order("position").Find(&entries).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load playlist %s", latest.PlaylistName)
	}

	return &Playlist{
		Name:      latest.PlaylistName,
		Username:  username,
		RunID:     latest.RunID,
		CreatedAt: latest.CreatedAt,
		Entries:   entries,
	}, nil
}

// CategoryMove reassigns a group of tracks to a category
type CategoryMove struct {
	Category string
	TrackIDs []uint
}

// ReplacePlaylist atomically swaps the stored playlist of the same name and user for this one,
// pointing each referenced track at it
func (s *Store) ReplacePlaylist(ctx context.Context, playlist *Playlist) error {
	return s.commitPlaylist(ctx, playlist, false, nil)
}

// CommitGeneration stores the outcome of one generation run in a single
// transaction: played flags are cleared, the category moves are applied and
// the playlist replaces the stored one of the same name and user. Nothing is
// written when any step fails.
func (s *Store) CommitGeneration(ctx context.Context, playlist *Playlist, moves []CategoryMove) error {
	return s.commitPlaylist(ctx, playlist, true, moves)
}

func (s *Store) commitPlaylist(ctx context.Context, playlist *Playlist, resetPlayed bool, moves []CategoryMove) error {
	unlock := s.locks.Lock(playlist.Username + "\x00" + playlist.Name)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if resetPlayed {
			if err := tx.Model(&Track{}).Where("played = ?", true).Update("played", false).Error; err != nil {
				return errors.Wrap(err, "failed to reset played flags")
			}
		}
		for _, move := range moves {
			if len(move.TrackIDs) == 0 {
				continue
			}
			err := tx.Model(&Track{}).Where("id IN ?", move.TrackIDs).Update("category", move.Category).Error
			if err != nil {
				return errors.Wrapf(err, "failed to move %d tracks to %s", len(move.TrackIDs), move.Category)
			}
		}

		err := tx.Where("playlist_name = ? AND username = ?", playlist.Name, playlist.Username).Delete(&PlaylistEntry{}).Error
		if err != nil {
			return errors.Wrap(err, "failed to delete previous playlist")
		}

		if len(playlist.Entries) == 0 {
			return nil
		}

		trackIDs := make([]uint, 0, len(playlist.Entries))
		for i := range playlist.Entries {
			entry := &playlist.Entries[i]
			entry.ID = 0
			entry.PlaylistName = playlist.Name
			entry.Username = playlist.Username
			entry.RunID = playlist.RunID
			entry.CreatedAt = playlist.CreatedAt
			trackIDs = append(trackIDs, entry.TrackID)
		}

		if err := tx.CreateInBatches(playlist.Entries, 200).Error; err != nil {
			return errors.Wrap(err, "failed to insert playlist entries")
		}

		err = tx.Model(&Track{}).Where("id IN ?", trackIDs).Updates(map[string]interface{}{
			"most_recent_playlist": playlist.Name,
			"played":               true,
		}).Error
		if err != nil {
			return errors.Wrap(err, "failed to update most recent playlist")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Mark(errors.Wrapf(err, "playlist %s", playlist.Name), ErrPlaylistConflict)
	}
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("playlist", playlist.Name).
		Str("username", playlist.Username).
		Int("entries", len(playlist.Entries)).
		Int("category_moves", len(moves)).
		Msg("playlist committed")
	return nil
}

// TrackURIs loads the Spotify URI records of a track, oldest first
func (s *Store) TrackURIs(ctx context.Context, trackID uint) ([]SpotifyURI, error) {
	var uris []SpotifyURI
	if err := s.db.WithContext(ctx).Where("track_id = ?", trackID).Order("id").Find(&uris).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load uris of track %d", trackID)
	}
	return uris, nil
}

// URI loads one Spotify URI record
func (s *Store) URI(ctx context.Context, id uint) (*SpotifyURI, error) {
	var uri SpotifyURI
	err := s.db.WithContext(ctx).First(&uri, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrURINotFound, "uri %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load uri %d", id)
	}
	return &uri, nil
}

// URIsByStatus loads every URI record carrying one of the statuses
func (s *Store) URIsByStatus(ctx context.Context, statuses ...string) ([]SpotifyURI, error) {
	var uris []SpotifyURI
	if err := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("id").Find(&uris).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load uris by status")
	}
	return uris, nil
}

// SaveURI inserts or updates a Spotify URI record
func (s *Store) SaveURI(ctx context.Context, uri *SpotifyURI) error {
	if err := s.db.WithContext(ctx).Save(uri).Error; err != nil {
		return errors.Wrapf(err, "failed to save uri for track %d", uri.TrackID)
	}
	return nil
}

// DeleteURIs removes URI records by id
func (s *Store) DeleteURIs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&SpotifyURI{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete uris")
	}
	return nil
}

// SetMusicBrainzID stores the MusicBrainz recording id hint of a track
func (s *Store) SetMusicBrainzID(ctx context.Context, trackID uint, mbid string) error {
	err := s.db.WithContext(ctx).Model(&Track{}).Where("id = ?", trackID).Update("music_brainz_id", mbid).Error
	if err != nil {
		return errors.Wrapf(err, "failed to store musicbrainz id of track %d", trackID)
	}
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
