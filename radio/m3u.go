package radio

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/library"
)

// WriteM3U writes playlist to <dir>/<name>.m3u, creating dir if needed, and returns the file path
func WriteM3U(dir string, playlist *library.Playlist) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create playlist directory %s", dir)
	}

	path := filepath.Join(dir, fileName(playlist.Name)+".m3u")
	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()

	if err := FormatM3U(file, playlist.Entries); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, file.Close()
}

// FormatM3U writes the header line and one metadata, category and path line per entry
func FormatM3U(w io.Writer, entries []library.PlaylistEntry) error {
	buf := bufio.NewWriter(w)
	fmt.Fprintln(buf, "#EXTM3U")
	for _, entry := range entries {
		seconds := (&library.Track{TotalTime: entry.TotalTime}).DurationSeconds()
		fmt.Fprintf(buf, "#EXTINF:%d,%s - %s\n", seconds, entry.Artist, entry.Song)
		fmt.Fprintf(buf, "#EXTGRP:%s\n", entry.Category)
		fmt.Fprintln(buf, LocalPath(entry.Location))
	}
	return buf.Flush()
}

// LocalPath turns a file:// URL into a filesystem path and leaves anything else as is
func LocalPath(location string) string {
	if !strings.HasPrefix(location, "file://") {
		return location
	}
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	path := u.Path
	// file://localhost/C:/Music/...
	if len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path
}

func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
