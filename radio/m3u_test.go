package radio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garry/tunesync/library"
)

func TestFormatM3U(t *testing.T) {
	entries := []library.PlaylistEntry{
		{Position: 1, Artist: "Queen", Song: "Bicycle Race", Category: "Old", TotalTime: 181000, Location: "file:///Users/me/Music/Queen/Bicycle%20Race.mp3"},
		{Position: 2, Artist: "Björk", Song: "Army of Me", Category: "Library", Location: "/music/bjork.mp3"},
	}

	var buf bytes.Buffer
	if err := FormatM3U(&buf, entries); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:181,Queen - Bicycle Race",
		"#EXTGRP:Old",
		"/Users/me/Music/Queen/Bicycle Race.mp3",
		"#EXTINF:-1,Björk - Army of Me",
		"#EXTGRP:Library",
		"/music/bjork.mp3",
	}, "\n") + "\n"

	if buf.String() != expected {
		t.Errorf("Expected:\n%s\ngot:\n%s", expected, buf.String())
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"file:///Users/me/Music/a%20b.mp3", "/Users/me/Music/a b.mp3"},
		{"file://localhost/C:/Music/song.mp3", "C:/Music/song.mp3"},
		{"/already/local.mp3", "/already/local.mp3"},
		{"", ""},
	}

	for _, test := range tests {
		result := LocalPath(test.input)
		if result != test.expected {
			t.Errorf("LocalPath(%q): expected %q, got %q", test.input, test.expected, result)
		}
	}
}

func TestWriteM3UCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "playlists")
	playlist := &library.Playlist{
		Name:    "Radio/Mix",
		Entries: []library.PlaylistEntry{{Artist: "A", Song: "One", Category: "New", Location: "/a.mp3"}},
	}

	path, err := WriteM3U(dir, playlist)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if filepath.Base(path) != "Radio_Mix.m3u" {
		t.Errorf("Expected file name 'Radio_Mix.m3u', got '%s'", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read playlist file: %v", err)
	}
	if !strings.HasPrefix(string(data), "#EXTM3U\n") {
		t.Errorf("Expected M3U header, got %q", string(data))
	}
}
