package radio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
	"github.com/garry/tunesync/library"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrCategoryExhausted aborts a run when a category cannot fill a slot even after a reset
	ErrCategoryExhausted = errors.New("category exhausted")
	ErrInvalidRequest    = errors.New("invalid generation request")
)

// Store is the subset of the track store the generator needs
type Store interface {
	AllTracks(ctx context.Context) ([]library.Track, error)
	RecentlyPlayed(ctx context.Context, n int) ([]library.Track, error)
	LatestPlaylist(ctx context.Context, username string) (*library.Playlist, error)
	CommitGeneration(ctx context.Context, playlist *library.Playlist, moves []library.CategoryMove) error
}

// Request describes one playlist generation
type Request struct {
	Name               string
	Username           string
	LengthMinutes      int
	MinRecentPlayCount int
	Categories         []config.Category
	// AverageTrackSeconds overrides the catalog mean when positive
	AverageTrackSeconds float64
	Session             *Session
}

// Stats summarises a generation run
type Stats struct {
	RunID               string
	TotalSlots          int
	AverageTrackSeconds float64
	Quotas              []Quota
	CategoryCounts      map[string]int
	Reclassified        int
	Resets              map[string]int
	SpacingViolations   int
	Elapsed             time.Duration
	FilePath            string
	// FileError is set when the database commit succeeded but the M3U file could not be written
	FileError error
}

// Result is a committed playlist and its statistics
type Result struct {
	Playlist *library.Playlist
	Stats    Stats
}

// CategoryCount is a category's size before and after reclassification
type CategoryCount struct {
	Category string
	Before   int
	After    int
}

// Generator builds rotation playlists from the track store
type Generator struct {
	store       Store
	playlistDir string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGenerator creates a generator writing M3U files into playlistDir
func NewGenerator(store Store, playlistDir string, logger zerolog.Logger) *Generator {
	return &Generator{
		store:       store,
		playlistDir: playlistDir,
		logger:      logger.With().Str("component", "generator").Logger(),
		now:         time.Now,
	}
}

// Generate reclassifies the catalog, plans and fills every slot, then commits
// the category moves and the playlist in one transaction and writes the M3U
// file. A failure before the commit leaves the store untouched.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	started := g.now()
	stats := Stats{
		RunID:          uuid.NewString(),
		CategoryCounts: make(map[string]int),
		Resets:         make(map[string]int),
	}
	logger := g.logger.With().Str("run_id", stats.RunID).Str("playlist", req.Name).Logger()

	tracks, err := g.store.AllTracks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tracks {
		tracks[i].Played = false
	}
	pools := NewPools(tracks)

	moves := Reclassify(pools, req.MinRecentPlayCount, started)
	stats.Reclassified = len(moves)
	logger.Debug().Int("moves", len(moves)).Msg("catalog reclassified")

	stats.AverageTrackSeconds = averageTrackSeconds(req.AverageTrackSeconds, tracks)
	stats.TotalSlots = TotalSlots(req.LengthMinutes, stats.AverageTrackSeconds)

	sequence, quotas, err := Plan(req.Categories, stats.TotalSlots)
	if err != nil {
		return nil, err
	}
	stats.Quotas = quotas

	history := req.Session.History()
	selector := NewSelector(pools, req.Categories)
	entries := make([]library.PlaylistEntry, 0, len(sequence))

	for slot, category := range sequence {
		var result Selection
		for attempt := 0; ; attempt++ {
			result = selector.Select(category, slot, history, attempt)
			if result.Kind != Exhausted {
				break
			}
			logger.Debug().Str("category", category).Int("slot", slot+1).Msg("category exhausted, resetting played flags")
			pools.Get(category).ResetPlayed()
			stats.Resets[category]++
		}

		if result.Kind == FatalExhaustion {
			err := errors.Wrapf(ErrCategoryExhausted, "category %s could not fill slot %d", category, slot+1)
			return nil, errors.WithHintf(err,
				"add tracks to %s, lower its percentage or reduce its artist repeat interval", category)
		}
		if result.SpacingRelaxed {
			stats.SpacingViolations++
		}

		track := result.Track
		history.Record(track.CommonName(), slot, category)
		stats.CategoryCounts[category]++
		entries = append(entries, library.PlaylistEntry{
			Position:         slot + 1,
			TrackID:          track.ID,
			Artist:           track.Artist,
			Song:             track.Song,
			Category:         category,
			PlayCount:        track.PlayCount,
			ArtistCommonName: track.CommonName(),
			Location:         track.Location,
			TotalTime:        track.TotalTime,
		})
	}

	playlist := &library.Playlist{
		Name:      req.Name,
		Username:  req.Username,
		RunID:     stats.RunID,
		CreatedAt: started,
		Entries:   entries,
	}
	if err := g.store.CommitGeneration(ctx, playlist, groupMoves(moves)); err != nil {
		return nil, err
	}

	path, err := WriteM3U(g.playlistDir, playlist)
	if err != nil {
		stats.FileError = err
		logger.Error().Err(err).Msg("playlist committed but m3u file was not written")
	} else {
		stats.FilePath = path
	}

	stats.Elapsed = g.now().Sub(started)
	logger.Info().
		Int("slots", stats.TotalSlots).
		Int("entries", len(entries)).
		Int("spacing_violations", stats.SpacingViolations).
		Dur("elapsed", stats.Elapsed).
		Msg("playlist generated")

	return &Result{Playlist: playlist, Stats: stats}, nil
}

// Preview finds the user's latest playlist and where they stopped listening.
// It returns nil when there is no playlist or nothing has been played.
func (g *Generator) Preview(ctx context.Context, username string) (*Continuity, error) {
	playlist, err := g.store.LatestPlaylist(ctx, username)
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, nil
	}

	recent, err := g.store.RecentlyPlayed(ctx, recentPlays)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}

	continuity := &Continuity{
		Playlist:  playlist,
		StopPoint: FindStopPoint(playlist.Entries, recent),
	}
	g.logger.Debug().
		Str("playlist", playlist.Name).
		Int("stop_point", continuity.StopPoint).
		Msg("continuity preview")
	return continuity, nil
}

// Counts previews reclassification without touching the store
func (g *Generator) Counts(ctx context.Context, minRecentPlayCount int) ([]CategoryCount, error) {
	tracks, err := g.store.AllTracks(ctx)
	if err != nil {
		return nil, err
	}

	pools := NewPools(tracks)
	before := pools.Counts()

	preview := pools.Clone()
	Reclassify(preview, minRecentPlayCount, g.now())
	after := preview.Counts()

	var counts []CategoryCount
	for _, category := range preview.Categories() {
		if before[category] == 0 && after[category] == 0 {
			continue
		}
		counts = append(counts, CategoryCount{
			Category: category,
			Before:   before[category],
			After:    after[category],
		})
	}
	return counts, nil
}

func validateRequest(req Request) error {
	var problems []string
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "playlist name is required")
	}
	if strings.TrimSpace(req.Username) == "" {
		problems = append(problems, "username is required")
	}
	if req.LengthMinutes <= 0 {
		problems = append(problems, "length must be positive")
	}
	if req.MinRecentPlayCount < 0 {
		problems = append(problems, "minimum recent play count must not be negative")
	}
	if len(req.Categories) == 0 {
		problems = append(problems, "at least one category is required")
	}
	var total float64
	seen := make(map[string]bool)
	for _, category := range req.Categories {
		if seen[category.Name] {
			problems = append(problems, "duplicate category "+category.Name)
		}
		seen[category.Name] = true
		if category.ArtistRepeat < 0 {
			problems = append(problems, "category "+category.Name+" has a negative artist repeat")
		}
		if category.Percentage < 0 {
			problems = append(problems, "category "+category.Name+" has a negative percentage")
		}
		total += category.Percentage
	}
	if total > 100+percentEpsilon {
		problems = append(problems, fmt.Sprintf("category percentages sum to %.1f, more than 100", total))
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

func averageTrackSeconds(override float64, tracks []library.Track) float64 {
	if override > 0 {
		return override
	}
	var total, known int
	for _, track := range tracks {
		if track.TotalTime > 0 {
			total += track.TotalTime
			known++
		}
	}
	if known == 0 {
		return DefaultTrackSeconds
	}
	return float64(total) / float64(known) / 1000
}
