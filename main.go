package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
	"github.com/garry/tunesync/library"
	"github.com/garry/tunesync/match"
	"github.com/garry/tunesync/musicbrainz"
	"github.com/garry/tunesync/radio"
	"github.com/garry/tunesync/spotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information - set during build
var version = "dev"

// Constants for display formatting
const (
	separatorLine   = "="
	separatorLength = 80
)

// Exit codes
const (
	exitCodeSuccess     = 0
	exitCodeRunError    = 1
	exitCodeConfigError = 2
)

// options holds the persistent flags that override configuration
type options struct {
	debug        bool
	dbDriver     string
	dbDSN        string
	username     string
	playlistDir  string
	categories   string
	length       int
	minRecent    int
	trackSeconds float64
}

// overrides maps the flags that were set to configuration keys
func (o *options) overrides() map[string]string {
	overrides := map[string]string{
		"DATABASE_DRIVER":  o.dbDriver,
		"DATABASE_DSN":     o.dbDSN,
		"RADIO_USERNAME":   o.username,
		"PLAYLIST_DIR":     o.playlistDir,
		"RADIO_CATEGORIES": o.categories,
	}
	if o.debug {
		overrides["DEBUG"] = "true"
	}
	if o.length > 0 {
		overrides["RADIO_LENGTH_MINUTES"] = strconv.Itoa(o.length)
	}
	if o.minRecent >= 0 {
		overrides["RADIO_MIN_RECENT_PLAYCOUNT"] = strconv.Itoa(o.minRecent)
	}
	return overrides
}

// Application represents the main application state
type Application struct {
	config    *config.Config
	logger    zerolog.Logger
	store     *library.Store
	generator *radio.Generator
	out       io.Writer
}

// NewApplication opens the track store and wires the generator. A local
// sqlite database is migrated on open; a postgres schema only changes through
// the migrate command.
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	db, err := library.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	store := library.NewStore(db, logger)
	if cfg.Database.Driver == library.DriverSQLite {
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	return &Application{
		config:    cfg,
		logger:    logger,
		store:     store,
		generator: radio.NewGenerator(store, cfg.Radio.PlaylistDir, logger),
		out:       os.Stdout,
	}, nil
}

// resolver creates a resolver, connecting to Spotify only when online is set
func (app *Application) resolver(ctx context.Context, online bool) (*match.Resolver, error) {
	if !online {
		return match.NewResolver(app.store, nil, nil, app.logger), nil
	}
	if err := app.config.RequireSpotify(); err != nil {
		return nil, err
	}
	spotifyClient, err := spotify.NewClient(ctx, app.config.Spotify, app.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Spotify client")
	}
	return match.NewResolver(app.store, spotifyClient, musicbrainz.NewClient("", app.logger), app.logger), nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newRootCommand() *cobra.Command {
	opts := &options{minRecent: -1}
	var app *Application

	root := &cobra.Command{
		Use:           "tunesync",
		Short:         "Rotation playlists and Spotify matching for a local music library",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithOverrides(opts.overrides())
			if err != nil {
				return errors.Mark(err, errConfig)
			}
			app, err = NewApplication(cmd.Context(), cfg, newLogger(cfg.Debug))
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug output")
	flags.StringVar(&opts.dbDriver, "db-driver", "", "Database driver, postgres or sqlite (overrides DATABASE_DRIVER)")
	flags.StringVar(&opts.dbDSN, "db-dsn", "", "Database DSN (overrides DATABASE_DSN)")
	flags.StringVar(&opts.username, "username", "", "Listener the playlist is generated for (overrides RADIO_USERNAME)")
	flags.StringVar(&opts.playlistDir, "playlist-dir", "", "Directory M3U files are written to (overrides PLAYLIST_DIR)")
	flags.StringVar(&opts.categories, "categories", "", "Category rules as Name:percentage:artistRepeat,... (overrides RADIO_CATEGORIES)")
	flags.IntVar(&opts.minRecent, "min-recent", -1, "Play count below which Library tracks count as recent adds (overrides RADIO_MIN_RECENT_PLAYCOUNT)")

	appFn := func() *Application { return app }
	root.AddCommand(
		cmdGenerate(appFn, opts),
		cmdPreview(appFn),
		cmdCounts(appFn),
		cmdSync(appFn),
		cmdResolve(appFn),
		cmdReview(appFn),
		cmdLink(appFn),
		cmdAccept(appFn),
		cmdRepair(appFn),
		cmdMigrate(appFn),
	)
	return root
}

var errConfig = errors.New("configuration error")

func cmdGenerate(app func() *Application, opts *options) *cobra.Command {
	var assumeYes, fresh bool
	cmd := &cobra.Command{
		Use:   "generate <playlist name>",
		Short: "Generate a rotation playlist and write its M3U file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().generate(cmd.Context(), args[0], opts.trackSeconds, assumeYes, fresh)
		},
	}
	cmd.Flags().IntVar(&opts.length, "length", 0, "Playlist length in minutes (overrides RADIO_LENGTH_MINUTES)")
	cmd.Flags().Float64Var(&opts.trackSeconds, "track-seconds", 0, "Average track length in seconds used for planning (default: catalog mean)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Continue from the detected stop point without asking")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore the previous playlist")
	return cmd
}

func (app *Application) generate(ctx context.Context, name string, trackSeconds float64, assumeYes, fresh bool) error {
	username := app.config.Radio.Username
	session := &radio.Session{Username: username}

	if !fresh {
		continuity, err := app.generator.Preview(ctx, username)
		if err != nil {
			return err
		}
		session.Continuity = continuity
		if continuity.Found() {
			app.displayContinuity(continuity)
			session.Confirmed = assumeYes
			if !assumeYes {
				err := huh.NewConfirm().
					Title("Continue from here?").
					Description(fmt.Sprintf("Artists played before position %d of %s are spaced from the start of the new playlist", continuity.StopPoint, continuity.Playlist.Name)).
					Affirmative("Yes").
					Negative("No").
					Value(&session.Confirmed).
					Run()
				if err != nil {
					return errors.Wrap(err, "continuity prompt failed")
				}
			}
		}
	}

	req := radio.Request{
		Name:                name,
		Username:            username,
		LengthMinutes:       app.config.Radio.LengthMinutes,
		MinRecentPlayCount:  app.config.Radio.MinRecentPlayCount,
		Categories:          app.config.Radio.Categories,
		AverageTrackSeconds: trackSeconds,
		Session:             session,
	}

	var result *radio.Result
	err := spinner.New().
		Title("Generating " + name + "...").
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			var err error
			result, err = app.generator.Generate(ctx, req)
			return err
		}).
		Run()
	if err != nil {
		return err
	}

	app.displayResult(result)
	return nil
}

func cmdPreview(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show where the listener stopped in their latest playlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			continuity, err := a.generator.Preview(cmd.Context(), a.config.Radio.Username)
			if err != nil {
				return err
			}
			a.displayContinuity(continuity)
			return nil
		},
	}
}

func cmdCounts(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show category sizes before and after reclassification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			counts, err := a.generator.Counts(cmd.Context(), a.config.Radio.MinRecentPlayCount)
			if err != nil {
				return err
			}
			a.displayCounts(counts)
			return nil
		},
	}
}

func cmdSync(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Search Spotify for every track without a link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			resolver, err := a.resolver(cmd.Context(), true)
			if err != nil {
				return err
			}
			report, err := resolver.Sync(cmd.Context(), func(done, total int) {
				a.logger.Debug().Int("done", done).Int("total", total).Msg("sync progress")
			})
			if report != nil {
				a.displaySyncReport(report)
			}
			return err
		},
	}
}

func cmdResolve(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Merge Unmatched tracks that duplicate a catalog track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			resolver, err := a.resolver(cmd.Context(), false)
			if err != nil {
				return err
			}
			merges, err := resolver.AutoResolve(cmd.Context())
			a.displayMerges(merges)
			return err
		},
	}
}

func cmdReview(app func() *Application) *cobra.Command {
	var candidates int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List tracks whose Spotify links need an operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			resolver, err := a.resolver(cmd.Context(), false)
			if err != nil {
				return err
			}
			items, err := resolver.ReviewQueue(cmd.Context())
			if err != nil {
				return err
			}
			a.displayReviewQueue(items)

			if candidates <= 0 {
				return nil
			}
			for _, item := range items {
				if item.Track.Category != library.CategoryUnmatched {
					continue
				}
				proposals, err := resolver.Candidates(cmd.Context(), item.Track.ID, candidates)
				if err != nil {
					return err
				}
				a.displayCandidates(item.Track, proposals)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&candidates, "candidates", 0, "Also propose this many catalog tracks for each Unmatched track")
	return cmd
}

func cmdLink(app func() *Application) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "link <track id> <spotify uri or url>",
		Short: "Link a track to a Spotify track",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			trackID, err := parseID(args[0])
			if err != nil {
				return err
			}
			resolver, err := a.resolver(cmd.Context(), true)
			if err != nil {
				return err
			}
			result := resolver.Link(cmd.Context(), trackID, args[1], force)
			fmt.Fprintln(a.out, result.Message)
			if !result.OK {
				return errors.Newf("track %d was not linked", trackID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Link even when title and artist do not match")
	return cmd
}

func cmdAccept(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <uri id>",
		Short: "Accept a mismatched Spotify link as correct",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			uriID, err := parseID(args[0])
			if err != nil {
				return err
			}
			resolver, err := a.resolver(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := resolver.AcceptMismatch(cmd.Context(), uriID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✅ Accepted link %d\n", uriID)
			return nil
		},
	}
}

func cmdRepair(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <track id> <uri id to keep>",
		Short: "Keep one Spotify link of a track and remove the others",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			trackID, err := parseID(args[0])
			if err != nil {
				return err
			}
			keepID, err := parseID(args[1])
			if err != nil {
				return err
			}
			resolver, err := a.resolver(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := resolver.Repair(cmd.Context(), trackID, keepID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✅ Track %d now keeps only link %d\n", trackID, keepID)
			return nil
		},
	}
}

func cmdMigrate(app func() *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app().migrate(cmd.Context())
		},
	}
}

func (app *Application) migrate(ctx context.Context) error {
	if err := app.store.Migrate(ctx); err != nil {
		return errors.WithHint(err, "check DATABASE_DSN and that the database user may create tables")
	}
	fmt.Fprintf(app.out, "✅ %s database schema is up to date\n", app.config.Database.Driver)
	return nil
}

func parseID(value string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("'%s' is not a valid id", value)
	}
	return uint(id), nil
}

// displayContinuity shows the latest playlist and the detected stop point
func (app *Application) displayContinuity(continuity *radio.Continuity) {
	if continuity == nil {
		fmt.Fprintln(app.out, "No previous playlist with recent plays, starting fresh")
		return
	}
	playlist := continuity.Playlist
	fmt.Fprintf(app.out, "Latest playlist: %s (%d tracks, %s)\n", playlist.Name, len(playlist.Entries), playlist.CreatedAt.Format(time.DateTime))

	last := continuity.LastHeard()
	if last == nil {
		fmt.Fprintln(app.out, "Could not find where listening stopped, starting fresh")
		return
	}
	fmt.Fprintf(app.out, "Stopped at %d/%d: %s - %s\n", continuity.StopPoint, len(playlist.Entries), last.Artist, last.Song)
}

// displayResult displays the generated playlist and its statistics
func (app *Application) displayResult(result *radio.Result) {
	stats := result.Stats
	fmt.Fprintln(app.out, strings.Repeat(separatorLine, separatorLength))
	fmt.Fprintf(app.out, "PLAYLIST %s\n", result.Playlist.Name)
	fmt.Fprintln(app.out, strings.Repeat(separatorLine, separatorLength))

	for _, entry := range result.Playlist.Entries {
		fmt.Fprintf(app.out, "%3d. [%s] %s - %s\n", entry.Position, entry.Category, entry.Artist, entry.Song)
	}

	fmt.Fprintln(app.out, "\n"+strings.Repeat(separatorLine, separatorLength))
	fmt.Fprintln(app.out, "SUMMARY")
	fmt.Fprintln(app.out, strings.Repeat(separatorLine, separatorLength))
	fmt.Fprintf(app.out, "Run: %s\n", stats.RunID)
	fmt.Fprintf(app.out, "Slots: %d (average track %.0fs)\n", stats.TotalSlots, stats.AverageTrackSeconds)
	for _, quota := range stats.Quotas {
		fmt.Fprintf(app.out, "  %-12s %3d planned, %3d placed, %d resets\n", quota.Category, quota.Count, stats.CategoryCounts[quota.Category], stats.Resets[quota.Category])
	}
	if stats.Reclassified > 0 {
		fmt.Fprintf(app.out, "Reclassified tracks: %d\n", stats.Reclassified)
	}
	if stats.SpacingViolations > 0 {
		fmt.Fprintf(app.out, "⚠️  Artist spacing relaxed %d time(s)\n", stats.SpacingViolations)
	}
	fmt.Fprintf(app.out, "Generated in %s\n", stats.Elapsed.Round(time.Millisecond))

	if stats.FileError != nil {
		fmt.Fprintf(app.out, "❌ Playlist saved but the M3U file could not be written: %v\n", stats.FileError)
	} else {
		fmt.Fprintf(app.out, "✅ Wrote %s\n", stats.FilePath)
	}
}

// displayCounts displays category sizes before and after reclassification
func (app *Application) displayCounts(counts []radio.CategoryCount) {
	fmt.Fprintf(app.out, "%-12s %8s %8s\n", "CATEGORY", "NOW", "AFTER")
	for _, count := range counts {
		fmt.Fprintf(app.out, "%-12s %8d %8d\n", count.Category, count.Before, count.After)
	}
}

// displaySyncReport displays how many tracks ended up in each status
func (app *Application) displaySyncReport(report *match.SyncReport) {
	fmt.Fprintf(app.out, "Checked %d track(s)\n", report.Checked)

	statuses := make([]string, 0, len(report.ByStatus))
	for status := range report.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(app.out, "  %-22s %d\n", status, report.ByStatus[status])
	}

	if len(report.Failed) > 0 {
		fmt.Fprintf(app.out, "\n❌ %d lookup(s) failed:\n", len(report.Failed))
		for _, message := range report.Failed {
			fmt.Fprintf(app.out, "  %s\n", message)
		}
	}
}

// displayMerges lists the Unmatched tracks removed as duplicates
func (app *Application) displayMerges(merges []match.Merge) {
	if len(merges) == 0 {
		fmt.Fprintln(app.out, "No duplicates found")
		return
	}
	for _, merge := range merges {
		fmt.Fprintf(app.out, "Removed %d (%s - %s), duplicate of %d via %s\n",
			merge.Removed.ID, merge.Removed.Artist, merge.Removed.Song, merge.Into.ID, merge.URI)
	}
	fmt.Fprintf(app.out, "✅ Merged %d track(s)\n", len(merges))
}

// displayReviewQueue lists the tracks that need an operator, with their links
func (app *Application) displayReviewQueue(items []match.ReviewItem) {
	if len(items) == 0 {
		fmt.Fprintln(app.out, "✅ Nothing to review")
		return
	}
	fmt.Fprintf(app.out, "Tracks to review (%d total):\n", len(items))
	fmt.Fprintln(app.out, strings.Repeat("-", separatorLength))

	for i, item := range items {
		fmt.Fprintf(app.out, "%3d. [%s] track %d: %s - %s\n", i+1, item.Reason, item.Track.ID, item.Track.Artist, item.Track.Song)
		for _, uri := range item.Track.SpotifyURIs {
			target := uri.URI
			if target == "" {
				target = "(none)"
			}
			fmt.Fprintf(app.out, "     link %d: %s %s\n", uri.ID, uri.Status, target)
		}
		if item.Track.MusicBrainzID != "" {
			fmt.Fprintf(app.out, "     MusicBrainz ID: %s - https://musicbrainz.org/recording/%s\n", item.Track.MusicBrainzID, item.Track.MusicBrainzID)
		}
	}
}

// displayCandidates lists catalog tracks that may be the same song as track
func (app *Application) displayCandidates(track library.Track, candidates []match.Candidate) {
	fmt.Fprintf(app.out, "\nCandidates for %d (%s - %s):\n", track.ID, track.Artist, track.Song)
	if len(candidates) == 0 {
		fmt.Fprintln(app.out, "     (none)")
		return
	}
	for _, candidate := range candidates {
		marker := ""
		if candidate.SharedURI {
			marker = " same Spotify link"
		}
		fmt.Fprintf(app.out, "     %5.1f%% track %d: %s - %s%s\n",
			candidate.Score.Weighted, candidate.Track.ID, candidate.Track.Artist, candidate.Track.Song, marker)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "   %s\n", hint)
		}
		stop()
		if errors.Is(err, errConfig) {
			os.Exit(exitCodeConfigError)
		}
		os.Exit(exitCodeRunError)
	}
	os.Exit(exitCodeSuccess)
}
