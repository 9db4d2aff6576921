package radio

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
	"github.com/garry/tunesync/library"
	"github.com/rs/zerolog"
)

func newTestGenerator(t *testing.T, tracks ...library.Track) (*Generator, *library.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := library.Open(library.DriverSQLite, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	store := library.NewStore(db, zerolog.Nop())
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	for i := range tracks {
		if err := store.UpsertTrack(ctx, &tracks[i]); err != nil {
			t.Fatalf("Failed to insert track: %v", err)
		}
	}

	generator := NewGenerator(store, t.TempDir(), zerolog.Nop())
	generator.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return generator, store
}

func request(categories ...config.Category) Request {
	return Request{
		Name:                "Radio",
		Username:            "alice",
		LengthMinutes:       4,
		AverageTrackSeconds: 60,
		Categories:          categories,
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "N1", Artist: "A", Category: "New", Location: "/n1.mp3", TotalTime: 200000},
		library.Track{Song: "N2", Artist: "B", Category: "New", Location: "/n2.mp3"},
		library.Track{Song: "N3", Artist: "C", Category: "New", Location: "/n3.mp3"},
		library.Track{Song: "O1", Artist: "D", Category: "Old", Location: "/o1.mp3"},
		library.Track{Song: "O2", Artist: "E", Category: "Old", Location: "/o2.mp3"},
	)

	result, err := generator.Generate(ctx, request(
		config.Category{Name: "New", Percentage: 50, ArtistRepeat: 3},
		config.Category{Name: "Old", Percentage: 50, ArtistRepeat: 1},
	))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedCategories := []string{"New", "Old", "New", "Old"}
	if len(result.Playlist.Entries) != len(expectedCategories) {
		t.Fatalf("Expected %d entries, got %d", len(expectedCategories), len(result.Playlist.Entries))
	}
	for i, category := range expectedCategories {
		entry := result.Playlist.Entries[i]
		if entry.Category != category {
			t.Errorf("Position %d: expected category %s, got %s", i+1, category, entry.Category)
		}
		if entry.Position != i+1 {
			t.Errorf("Position %d: entry has position %d", i+1, entry.Position)
		}
	}
	if result.Stats.RunID == "" {
		t.Error("Expected a run id")
	}
	if result.Stats.FileError != nil {
		t.Errorf("Unexpected file error: %v", result.Stats.FileError)
	}

	stored, err := store.LatestPlaylist(ctx, "alice")
	if err != nil || stored == nil {
		t.Fatalf("Expected committed playlist, got %v, %v", stored, err)
	}
	if stored.RunID != result.Stats.RunID {
		t.Errorf("Expected run id %s, got %s", result.Stats.RunID, stored.RunID)
	}

	// Every file entry must trace back to the committed playlist in the same order
	file, err := os.Open(result.Stats.FilePath)
	if err != nil {
		t.Fatalf("Failed to open playlist file: %v", err)
	}
	defer file.Close()

	var paths []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#") {
			paths = append(paths, line)
		}
	}
	if len(paths) != len(stored.Entries) {
		t.Fatalf("Expected %d file entries, got %d", len(stored.Entries), len(paths))
	}
	for i, entry := range stored.Entries {
		if paths[i] != entry.Location {
			t.Errorf("Position %d: file has %s, database has %s", i+1, paths[i], entry.Location)
		}
	}
}

func TestGenerateFatalExhaustion(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "N1", Artist: "A", Category: "New"},
	)

	_, err := generator.Generate(ctx, request(
		config.Category{Name: "New", Percentage: 50, ArtistRepeat: 0},
		config.Category{Name: "Empty", Percentage: 50, ArtistRepeat: 0},
	))
	if !errors.Is(err, ErrCategoryExhausted) {
		t.Fatalf("Expected ErrCategoryExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "Empty") {
		t.Errorf("Expected error to name the category, got %v", err)
	}

	stored, _ := store.LatestPlaylist(ctx, "alice")
	if stored != nil {
		t.Error("Expected nothing to be persisted after fatal exhaustion")
	}
}

func TestGenerateResetsExhaustedCategory(t *testing.T) {
	ctx := context.Background()
	generator, _ := newTestGenerator(t,
		library.Track{Song: "N1", Artist: "A", Category: "New"},
	)

	req := request(config.Category{Name: "New", Percentage: 100, ArtistRepeat: 0})
	req.LengthMinutes = 3
	result, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Playlist.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(result.Playlist.Entries))
	}
	if result.Stats.Resets["New"] != 2 {
		t.Errorf("Expected 2 resets, got %d", result.Stats.Resets["New"])
	}
	if result.Stats.SpacingViolations != 0 {
		t.Errorf("Expected no spacing violations, got %d", result.Stats.SpacingViolations)
	}
}

func TestGenerateSpacing(t *testing.T) {
	ctx := context.Background()
	generator, _ := newTestGenerator(t,
		library.Track{Song: "A1", Artist: "A", Category: "New"},
		library.Track{Song: "A2", Artist: "A", Category: "New"},
		library.Track{Song: "B1", Artist: "B", Category: "New"},
		library.Track{Song: "C1", Artist: "C", Category: "New"},
	)

	req := request(config.Category{Name: "New", Percentage: 100, ArtistRepeat: 3})
	result, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lastSlot := make(map[string]int)
	for i, entry := range result.Playlist.Entries {
		if last, ok := lastSlot[entry.ArtistCommonName]; ok && i-last < 3 {
			t.Errorf("Artist %s repeated after %d slots", entry.ArtistCommonName, i-last)
		}
		lastSlot[entry.ArtistCommonName] = i
	}

	// A single artist cannot honour the window; the retry relaxes it once per reset
	generator, _ = newTestGenerator(t,
		library.Track{Song: "A1", Artist: "A", Category: "New"},
		library.Track{Song: "A2", Artist: "A", Category: "New"},
	)
	req.LengthMinutes = 2
	result, err = generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Stats.SpacingViolations != 1 {
		t.Errorf("Expected 1 spacing violation, got %d", result.Stats.SpacingViolations)
	}
}

func TestGenerateCommitsReclassification(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "Fresh", Artist: "A", Category: library.CategoryLibrary, PlayCount: 0},
		library.Track{Song: "Known", Artist: "B", Category: library.CategoryLibrary, PlayCount: 20},
	)

	req := request(config.Category{Name: library.CategoryLibrary, Percentage: 100})
	req.LengthMinutes = 1
	req.MinRecentPlayCount = 3
	result, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Stats.Reclassified != 1 {
		t.Errorf("Expected 1 reclassified track, got %d", result.Stats.Reclassified)
	}

	recent, _ := store.TracksByCategory(ctx, library.CategoryRecentAdd)
	if len(recent) != 1 || recent[0].Song != "Fresh" {
		t.Errorf("Expected 'Fresh' to be committed to RecentAdd, got %+v", recent)
	}
	if result.Playlist.Entries[0].Song != "Known" {
		t.Errorf("Expected 'Known' to be picked from Library, got %s", result.Playlist.Entries[0].Song)
	}
}

func TestGenerateInvalidRequest(t *testing.T) {
	generator, _ := newTestGenerator(t)

	tests := []Request{
		{},
		{Name: "Radio", Username: "alice", LengthMinutes: 60},
		request(config.Category{Name: "A", Percentage: 80}, config.Category{Name: "B", Percentage: 80}),
		request(config.Category{Name: "A", Percentage: 50}, config.Category{Name: "A", Percentage: 50}),
	}

	for i, req := range tests {
		_, err := generator.Generate(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Request %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestPreviewEmptyDatabase(t *testing.T) {
	generator, _ := newTestGenerator(t)

	continuity, err := generator.Preview(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if continuity != nil {
		t.Errorf("Expected no continuity, got %+v", continuity)
	}
}

func TestPreviewAndContinue(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "A1", Artist: "A", Category: "New"},
		library.Track{Song: "B1", Artist: "B", Category: "New"},
		library.Track{Song: "C1", Artist: "C", Category: "New"},
		library.Track{Song: "D1", Artist: "D", Category: "New"},
	)

	req := request(config.Category{Name: "New", Percentage: 100, ArtistRepeat: 2})
	first, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The listener heard the first two entries
	played := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	for i, entry := range first.Playlist.Entries[:2] {
		track, _ := store.Track(ctx, entry.TrackID)
		heard := played.Add(time.Duration(i) * time.Minute)
		track.LastPlayDT = &heard
		track.PlayCount++
		store.UpsertTrack(ctx, track)
	}

	continuity, err := generator.Preview(ctx, "alice")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !continuity.Found() || continuity.StopPoint != 2 {
		t.Fatalf("Expected stop point 2, got %+v", continuity)
	}

	req.Session = &Session{Username: "alice", Continuity: continuity, Confirmed: true}
	second, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lastHeard := first.Playlist.Entries[1].ArtistCommonName
	if second.Playlist.Entries[0].ArtistCommonName == lastHeard {
		t.Errorf("Expected the last heard artist %s not to open the next playlist", lastHeard)
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "Fresh", Category: library.CategoryLibrary, PlayCount: 0},
		library.Track{Song: "Known", Category: library.CategoryLibrary, PlayCount: 20},
		library.Track{Song: "Archive", Category: library.CategoryOld},
	)

	counts, err := generator.Counts(ctx, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := map[string]CategoryCount{
		library.CategoryLibrary:   {Category: library.CategoryLibrary, Before: 2, After: 1},
		library.CategoryOld:       {Category: library.CategoryOld, Before: 1, After: 1},
		library.CategoryRecentAdd: {Category: library.CategoryRecentAdd, Before: 0, After: 1},
	}
	if len(counts) != len(expected) {
		t.Fatalf("Expected %d categories, got %+v", len(expected), counts)
	}
	for _, count := range counts {
		if expected[count.Category] != count {
			t.Errorf("Category %s: expected %+v, got %+v", count.Category, expected[count.Category], count)
		}
	}

	// Counts is a preview and must not touch the store
	unchanged, _ := store.TracksByCategory(ctx, library.CategoryLibrary)
	if len(unchanged) != 2 {
		t.Errorf("Expected Library to be unchanged, got %d tracks", len(unchanged))
	}
}

func TestGenerateInvalidPercentagesLeaveStoreUntouched(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "Fresh", Artist: "A", Category: library.CategoryLibrary, PlayCount: 0},
	)

	req := request(
		config.Category{Name: library.CategoryLibrary, Percentage: 80},
		config.Category{Name: library.CategoryOld, Percentage: 80},
	)
	req.MinRecentPlayCount = 3
	_, err := generator.Generate(ctx, req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Expected ErrInvalidRequest, got %v", err)
	}

	recent, _ := store.TracksByCategory(ctx, library.CategoryRecentAdd)
	if len(recent) != 0 {
		t.Errorf("Expected no reclassification for a rejected request, got %+v", recent)
	}
}

func TestGenerateFatalExhaustionLeavesCatalogUntouched(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "Fresh", Artist: "A", Category: library.CategoryLibrary, PlayCount: 0},
		library.Track{Song: "Known", Artist: "B", Category: library.CategoryLibrary, PlayCount: 20, Played: true},
	)

	req := request(
		config.Category{Name: library.CategoryLibrary, Percentage: 50},
		config.Category{Name: "Empty", Percentage: 50},
	)
	req.MinRecentPlayCount = 3
	_, err := generator.Generate(ctx, req)
	if !errors.Is(err, ErrCategoryExhausted) {
		t.Fatalf("Expected ErrCategoryExhausted, got %v", err)
	}

	tracks, _ := store.AllTracks(ctx)
	for _, track := range tracks {
		if track.Category != library.CategoryLibrary {
			t.Errorf("Expected '%s' to stay in Library, got %s", track.Song, track.Category)
		}
		if track.Song == "Known" && !track.Played {
			t.Error("Expected played flags of the previous run to survive an aborted run")
		}
	}
}

func TestGenerateFileErrorKeepsCommit(t *testing.T) {
	ctx := context.Background()
	generator, store := newTestGenerator(t,
		library.Track{Song: "N1", Artist: "A", Category: "New"},
	)

	blocker := filepath.Join(t.TempDir(), "not-a-directory")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	generator.playlistDir = filepath.Join(blocker, "playlists")

	req := request(config.Category{Name: "New", Percentage: 100})
	req.LengthMinutes = 1
	result, err := generator.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Expected the run to succeed, got %v", err)
	}
	if result.Stats.FileError == nil {
		t.Error("Expected a file error")
	}
	if result.Stats.FilePath != "" {
		t.Errorf("Expected no file path, got %s", result.Stats.FilePath)
	}

	stored, err := store.LatestPlaylist(ctx, "alice")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stored == nil || len(stored.Entries) != 1 {
		t.Errorf("Expected the playlist to stay committed, got %+v", stored)
	}
}
