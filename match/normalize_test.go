package match

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"The Beatles", "beatles"},
		{"Song (feat. Artist)", "song feat artist"},
		{"Song ft. Artist", "song feat artist"},
		{"Song Featuring Artist", "song feat artist"},
		{"Simon & Garfunkel", "simon and garfunkel"},
		{"Björk", "bjork"},
		{"Don’t Stop Me Now", "dont stop me now"},
		{"  A   Tribe Called  Quest ", "tribe called quest"},
		{"An Ending (Ascent)", "ending ascent"},
		{"Chloe × Halle", "chloe x halle"},
		{"Theatre", "theatre"},
		{"Left Behind", "left behind"},
		{"", ""},
	}

	for _, test := range tests {
		result := NormalizeText(test.input)
		if result != test.expected {
			t.Errorf("NormalizeText(%q): expected %q, got %q", test.input, test.expected, result)
		}
	}
}

func TestNormalizeStrict(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Title - Remastered 2011", "title"},
		{"Title - 2011 Remaster", "title"},
		{"Title (Deluxe Edition)", "title"},
		{"Title [Remastered]", "title"},
		{"Title (2009 Remaster)", "title"},
		{"Title (1999)", "title"},
		{"Title (feat. Someone)", "title"},
		{"Title [ft. Someone Else]", "title"},
		{"Title - Mono Version", "title"},
		{"Title - Remastered 2011 - Mono", "title"},
		{"Title - From the Motion Picture \"Film\"", "title"},
		{"The Title - Radio Edit", "title"},
		{"Live Forever", "live forever"},
		{"Title - Live at Wembley", "title live at wembley"},
	}

	for _, test := range tests {
		result := NormalizeStrict(test.input)
		if result != test.expected {
			t.Errorf("NormalizeStrict(%q): expected %q, got %q", test.input, test.expected, result)
		}
	}
}
