package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	featuringPattern   = regexp.MustCompile(`\b(?:featuring|feat|ft)\b\.?`)
	apostrophePattern  = regexp.MustCompile(`['’‘` + "`" + `]`)
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
	articlePattern     = regexp.MustCompile(`^(?:the|a|an)\s+`)

	// " - Remastered 2011", " - 2011 Remaster", " - Mono Version", " - Radio Edit"
	versionSuffixPattern = regexp.MustCompile(`\s+-\s+[^-]*\b(?:remaster(?:ed)?|deluxe|edition|anniversary|mono|stereo|single version|album version|radio edit|single edit|bonus track|explicit|clean)\b[^-]*$`)
	// "(Deluxe Edition)", "[Remastered]", "(2009 Remaster)"
	versionBracketPattern = regexp.MustCompile(`\s*[(\[][^)\]]*\b(?:remaster(?:ed)?|deluxe|edition|anniversary|mono|stereo|single version|album version|radio edit|single edit|bonus track|explicit|clean)\b[^)\]]*[)\]]`)
	yearBracketPattern    = regexp.MustCompile(`\s*[(\[]\s*\d{4}\s*[)\]]`)
	featBracketPattern    = regexp.MustCompile(`\s*[(\[]\s*(?:featuring|feat\.?|ft\.?|with)\s[^)\]]*[)\]]`)
	// "- From the Motion Picture ..." and friends
	soundtrackPattern = regexp.MustCompile(`\s*(?:-\s+|\()(?:from the (?:motion picture|film|movie|soundtrack)|love theme from|soundtrack version|film version|movie version)\b.*$`)
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText is the general purpose matching form: accents folded,
// lower case, "&" spelled out, featuring markers collapsed to "feat",
// punctuation dropped, a leading article removed and whitespace collapsed.
func NormalizeText(s string) string {
	s = normalizePunctuation(s)
	s = foldAccents(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = featuringPattern.ReplaceAllString(s, "feat")
	s = apostrophePattern.ReplaceAllString(s, "")
	s = punctuationPattern.ReplaceAllString(s, " ")
	s = collapse(s)
	s = articlePattern.ReplaceAllString(s, "")
	return s
}

// NormalizeStrict is the form used when comparing Spotify results with local
// tracks. It removes remaster and edition annotations, parenthetical years,
// bracketed featuring clauses and soundtrack suffixes before applying
// NormalizeText.
func NormalizeStrict(s string) string {
	s = normalizePunctuation(s)
	s = foldAccents(s)
	s = strings.ToLower(s)

	s = soundtrackPattern.ReplaceAllString(s, "")
	s = versionBracketPattern.ReplaceAllString(s, "")
	s = yearBracketPattern.ReplaceAllString(s, "")
	s = featBracketPattern.ReplaceAllString(s, "")
	// a suffix can hide behind another one: "Song - Remastered 2011 - Mono"
	for {
		trimmed := versionSuffixPattern.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}

	return NormalizeText(s)
}

func foldAccents(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return folded
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// normalizePunctuation maps typographic dashes, quotes and the multiplication sign to ASCII
func normalizePunctuation(s string) string {
	return punctuationReplacer.Replace(s)
}

var punctuationReplacer = strings.NewReplacer(
	"‐", "-",
	"–", "-",
	"—", "-",
	"―", "-",
	"×", "x", // "Chloe × Halle"
	"’", "'",
	"‘", "'",
	"′", "'",
	"“", "\"",
	"”", "\"",
)
