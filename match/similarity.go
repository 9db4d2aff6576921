package match

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Weights in percent of the song and artist scores in a combined similarity
const (
	SongWeight   = 60
	ArtistWeight = 40
)

// Score is the similarity of a candidate to a local track, each part in 0-100
type Score struct {
	Song     int
	Artist   int
	Weighted float64
}

// Perfect reports whether both song and artist matched completely
func (s Score) Perfect() bool {
	return s.Weighted >= 100
}

// Ratio is the Levenshtein similarity of two strings scaled to 0-100
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	distance := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(distance)/float64(longest))))
}

// TokenSetRatio compares the sets of words of a and b. The shared words are
// compared with each side's shared plus remaining words and the best of
// those ratios is returned, so word order and duplicated words do not count.
// Either side being empty scores 0.
func TokenSetRatio(a, b string) int {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var shared, onlyA, onlyB []string
	for token := range tokensA {
		if tokensB[token] {
			shared = append(shared, token)
		} else {
			onlyA = append(onlyA, token)
		}
	}
	for token := range tokensB {
		if !tokensA[token] {
			onlyB = append(onlyB, token)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(shared, " ")
	combinedA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := Ratio(combinedA, combinedB)
	if base != "" {
		if r := Ratio(base, combinedA); r > best {
			best = r
		}
		if r := Ratio(base, combinedB); r > best {
			best = r
		}
	}
	return best
}

func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range strings.Fields(s) {
		tokens[token] = true
	}
	return tokens
}

// Weighted combines song and artist scores
func Weighted(song, artist int) float64 {
	return float64(SongWeight*song+ArtistWeight*artist) / 100
}

// Compare scores a candidate song and artist against a local one after normalizing both with normalize
func Compare(normalize func(string) string, song, artist, candidateSong, candidateArtist string) Score {
	songScore := TokenSetRatio(normalize(song), normalize(candidateSong))
	artistScore := TokenSetRatio(normalize(artist), normalize(candidateArtist))
	return Score{
		Song:     songScore,
		Artist:   artistScore,
		Weighted: Weighted(songScore, artistScore),
	}
}
