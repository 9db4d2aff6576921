package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultCategories is the rotation used when RADIO_CATEGORIES is not set
const DefaultCategories = "RecentAdd:20:10,Library:55:25,Old:25:40"

// Config holds all configuration values
type Config struct {
	Spotify  SpotifyConfig
	Database DatabaseConfig
	Radio    RadioConfig
	Debug    bool `env:"DEBUG"`
}

// SpotifyConfig holds Spotify API configuration
type SpotifyConfig struct {
	ClientID     string `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
}

// DatabaseConfig selects the gorm driver and its DSN
type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER" default:"sqlite" validate:"oneof=postgres sqlite"`
	DSN    string `env:"DATABASE_DSN" default:"tunesync.db" validate:"required"`
}

// RadioConfig holds the rotation playlist settings
type RadioConfig struct {
	Username           string     `env:"RADIO_USERNAME" default:"default" validate:"required"`
	PlaylistDir        string     `env:"PLAYLIST_DIR" validate:"required"`
	LengthMinutes      int        `env:"RADIO_LENGTH_MINUTES" default:"240" validate:"gt=0"`
	MinRecentPlayCount int        `env:"RADIO_MIN_RECENT_PLAYCOUNT" default:"3" validate:"gte=0"`
	Categories         []Category `env:"RADIO_CATEGORIES" validate:"required,min=1,dive"`
}

// Category is one weighted partition of the catalog
type Category struct {
	Name         string  `validate:"required"`
	Percentage   float64 `validate:"gte=0,lte=100"`
	ArtistRepeat int     `validate:"gte=0"`
}

// Load loads configuration following the specified order:
// 1. Start with default values
// 2. Load from OS environment variables (only if they exist)
// 3. Load from .env file (only if it exists and values exist)
func Load() (*Config, error) {
	return LoadWithOverrides(nil)
}

// LoadWithOverrides loads configuration and applies CLI flag overrides last
func LoadWithOverrides(overrides map[string]string) (*Config, error) {
	config := &Config{}

	// Step 1: Initialize with default values
	if err := config.initializeDefaults(); err != nil {
		return nil, err
	}

	// Step 2: Load from OS environment variables (only if they exist)
	if err := config.loadFromOSEnv(); err != nil {
		return nil, err
	}

	// Step 3: Load from .env file (only if it exists and values exist)
	if err := config.loadFromEnvFile(); err != nil {
		return nil, err
	}

	// Step 4: Apply CLI flag overrides (only if they exist)
	if err := config.applyOverrides(overrides); err != nil {
		return nil, err
	}

	// Validate required configuration after all sources have been loaded
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// initializeDefaults sets up the initial configuration with default values
func (c *Config) initializeDefaults() error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "failed to set config defaults")
	}

	categories, err := ParseCategories(DefaultCategories)
	if err != nil {
		return err
	}
	c.Radio.Categories = categories
	c.Radio.PlaylistDir = filepath.Join(xdg.UserDirs.Music, "Playlists")

	return nil
}

// envKeys lists every key understood by set, in load order
var envKeys = []string{
	"SPOTIFY_CLIENT_ID",
	"SPOTIFY_CLIENT_SECRET",
	"DATABASE_DRIVER",
	"DATABASE_DSN",
	"RADIO_USERNAME",
	"PLAYLIST_DIR",
	"RADIO_LENGTH_MINUTES",
	"RADIO_MIN_RECENT_PLAYCOUNT",
	"RADIO_CATEGORIES",
	"DEBUG",
}

// loadFromOSEnv loads configuration from OS environment variables (only if they exist)
func (c *Config) loadFromOSEnv() error {
	values := make(map[string]string)
	for _, key := range envKeys {
		values[key] = os.Getenv(key)
	}
	return c.applyOverrides(values)
}

// loadFromEnvFile loads configuration from .env file (only if it exists and values exist)
func (c *Config) loadFromEnvFile() error {
	values, err := godotenv.Read()
	if err != nil {
		// .env file doesn't exist, skip this step
		return nil
	}
	return c.applyOverrides(values)
}

// applyOverrides applies key/value settings to the configuration (only if they are not empty)
func (c *Config) applyOverrides(overrides map[string]string) error {
	for _, key := range envKeys {
		value := strings.TrimSpace(overrides[key])
		if value == "" {
			continue
		}
		if err := c.set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "SPOTIFY_CLIENT_ID":
		c.Spotify.ClientID = value
	case "SPOTIFY_CLIENT_SECRET":
		c.Spotify.ClientSecret = value
	case "DATABASE_DRIVER":
		c.Database.Driver = strings.ToLower(value)
	case "DATABASE_DSN":
		c.Database.DSN = value
	case "RADIO_USERNAME":
		c.Radio.Username = value
	case "PLAYLIST_DIR":
		c.Radio.PlaylistDir = value
	case "RADIO_LENGTH_MINUTES":
		minutes, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", key, value)
		}
		c.Radio.LengthMinutes = minutes
	case "RADIO_MIN_RECENT_PLAYCOUNT":
		count, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", key, value)
		}
		c.Radio.MinRecentPlayCount = count
	case "RADIO_CATEGORIES":
		categories, err := ParseCategories(value)
		if err != nil {
			return err
		}
		c.Radio.Categories = categories
	case "DEBUG":
		debug, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", key, value)
		}
		c.Debug = debug
	}
	return nil
}

// ParseCategories parses "Name:percentage:artistRepeat" items separated by commas
func ParseCategories(input string) ([]Category, error) {
	var categories []Category
	for _, item := range parseCommaSeparatedList(input) {
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, errors.Newf("invalid category '%s': expected Name:percentage:artistRepeat", item)
		}
		percentage, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid percentage in category '%s'", item)
		}
		repeat, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid artist repeat in category '%s'", item)
		}
		categories = append(categories, Category{
			Name:         strings.TrimSpace(parts[0]),
			Percentage:   percentage,
			ArtistRepeat: repeat,
		})
	}
	return categories, nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings
func parseCommaSeparatedList(input string) []string {
	if input == "" {
		return nil
	}

	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}

	return items
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report env keys instead of Go field names so messages tell users what to set
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if key := field.Tag.Get("env"); key != "" {
			return key
		}
		return field.Name
	})
	return v
}

// validate checks that all configuration values are present and in range
func (c *Config) validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return errors.Wrap(err, "validation failed")
		}
		for _, fe := range validationErrors {
			problems = append(problems, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
		}
	}

	var total float64
	seen := make(map[string]bool)
	for _, category := range c.Radio.Categories {
		total += category.Percentage
		if seen[category.Name] {
			problems = append(problems, fmt.Sprintf("RADIO_CATEGORIES (duplicate category %s)", category.Name))
		}
		seen[category.Name] = true
	}
	if total > 100 {
		problems = append(problems, fmt.Sprintf("RADIO_CATEGORIES (percentages sum to %.1f, more than 100)", total))
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration values:\n%s\n\nSet these values via environment variables, .env file, or CLI flags", strings.Join(problems, "\n"))
	}

	return nil
}

// RequireSpotify checks the credentials needed by commands that call the Spotify API
func (c *Config) RequireSpotify() error {
	var missingFields []string
	if c.Spotify.ClientID == "" {
		missingFields = append(missingFields, "SPOTIFY_CLIENT_ID")
	}
	if c.Spotify.ClientSecret == "" {
		missingFields = append(missingFields, "SPOTIFY_CLIENT_SECRET")
	}
	if len(missingFields) > 0 {
		return errors.Newf("missing required configuration values:\n%s", strings.Join(missingFields, "\n"))
	}
	return nil
}
