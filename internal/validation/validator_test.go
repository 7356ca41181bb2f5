package validation

import (
	"errors"
	"strings"
	"testing"
)

type signup struct {
	Username string   `json:"username" validate:"required,min=3,max=20,username"`
	Email    string   `json:"email"    validate:"required,email"`
	Bio      string   `json:"bio"      validate:"max=10"`
	Rating   int      `json:"rating"   validate:"min=1,max=5"`
	Status   string   `json:"status"   validate:"omitempty,oneof=a b"`
	Genres   []string `json:"genres"   validate:"min=1"`
	Title    string   `json:"title"    validate:"notblank"`
}

func validSignup() signup {
	return signup{Username: "film_fan1", Email: "fan@example.com", Rating: 3, Genres: []string{"Drama"}, Title: "ok"}
}

func TestGet_Singleton(t *testing.T) {
	if Get() == nil || Get() != Get() {
		t.Fatalf("Get should return one shared validator")
	}
}

func TestStruct_Valid(t *testing.T) {
	if err := Struct(validSignup()); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestStruct_FieldMessages(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*signup)
		field  string
		substr string
	}{
		{"short username", func(s *signup) { s.Username = "ab" }, "username", "at least 3 characters"},
		{"bad username chars", func(s *signup) { s.Username = "bad name!" }, "username", "letters, numbers"},
		{"bad email", func(s *signup) { s.Email = "nope" }, "email", "valid email"},
		{"long bio", func(s *signup) { s.Bio = strings.Repeat("x", 11) }, "bio", "at most 10 characters"},
		{"rating high", func(s *signup) { s.Rating = 6 }, "rating", "at most 5"},
		{"rating low", func(s *signup) { s.Rating = 0 }, "rating", "at least 1"},
		{"oneof", func(s *signup) { s.Status = "c" }, "status", "one of: a b"},
		{"empty genres", func(s *signup) { s.Genres = nil }, "genres", "at least 1 items"},
		{"blank title", func(s *signup) { s.Title = "   " }, "title", "must not be blank"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := validSignup()
			c.mutate(&in)
			err := Struct(in)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			var ve *Error
			if !errors.As(err, &ve) || !ve.Has(c.field) {
				t.Fatalf("expected failure on %q, got %v", c.field, err)
			}
			if !strings.Contains(err.Error(), c.substr) {
				t.Fatalf("message %q does not contain %q", err.Error(), c.substr)
			}
		})
	}
}

func TestStruct_MultipleFieldsJoined(t *testing.T) {
	in := validSignup()
	in.Username, in.Rating = "", 9
	err := Struct(in)
	var ve *Error
	if !errors.As(err, &ve) || len(ve.Fields) < 2 {
		t.Fatalf("expected at least two failures, got %v", err)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Fatalf("expected joined message, got %q", err.Error())
	}
}

func TestField(t *testing.T) {
	err := Field("reason", "oneof", "reason must be spam, inappropriate, or spoiler")
	if !errors.Is(err, ErrInvalid) || err.Error() != "reason must be spam, inappropriate, or spoiler" {
		t.Fatalf("unexpected Field error: %v", err)
	}
	if (&Error{}).Error() != ErrInvalid.Error() {
		t.Fatalf("empty Error should fall back to the kind message")
	}
}

func TestCanonicalGenres(t *testing.T) {
	got, err := CanonicalGenres("genres", []string{"drama", "SCIENCE FICTION", "Drama"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "Drama" || got[1] != "Science Fiction" {
		t.Fatalf("CanonicalGenres = %v", got)
	}

	_, err = CanonicalGenres("genres", []string{"Drama", "Noir"})
	var ve *Error
	if !errors.As(err, &ve) || !ve.Has("genres") || !strings.Contains(err.Error(), "Noir") {
		t.Fatalf("expected unknown genre failure, got %v", err)
	}

	if g, ok := CanonicalGenre("tv movie"); !ok || g != "TV Movie" {
		t.Fatalf("CanonicalGenre(tv movie) = %q, %v", g, ok)
	}
}
