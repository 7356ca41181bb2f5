package validation

import (
	"golang.org/x/text/cases"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// genreKeys maps case-folded genre names to their canonical spelling.
var genreKeys = func() map[string]string {
	m := make(map[string]string, len(domain.Genres))
	for _, g := range domain.Genres {
		m[fold(g)] = g
	}
	return m
}()

// fold returns the caseless form of s. Casers are stateful, so each call
// gets its own.
func fold(s string) string { return cases.Fold().String(s) }

// CanonicalGenre maps g to its canonical spelling, matching case-insensitively.
func CanonicalGenre(g string) (string, bool) {
	c, ok := genreKeys[fold(g)]
	return c, ok
}

// CanonicalGenres canonicalizes and de-duplicates in, preserving order.
// Unknown genres produce an *Error naming field.
func CanonicalGenres(field string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, g := range in {
		c, ok := CanonicalGenre(g)
		if !ok {
			return nil, Field(field, "genre", field+" contains unknown genre \""+g+"\"")
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}
