package albumart

import (
	"strings"
	"unicode"
)

// Unknown is the placeholder used for an artist, album or title that was not
// supplied at all. An explicitly empty value is kept empty.
const Unknown = "unknown"

// CacheKey derives the file stem for an album: artist_album, or artist_title
// when the album is missing or a placeholder. The result holds only letters,
// digits and underscores.
func CacheKey(artist, album, title string) string {
	raw := artist + "_" + album
	if missingAlbum(album) {
		raw = artist + "_" + title
	}
	return sanitize(strings.ToLower(raw))
}

func missingAlbum(album string) bool {
	switch strings.ToLower(album) {
	case "", Unknown, "none", "null":
		return true
	}
	return false
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return '_'
	}, s)
}
