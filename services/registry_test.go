package services

import (
	"strings"
	"testing"
)

func TestSanitizeCollectionName(t *testing.T) {
	tests := []struct {
		name   string
		bookID string
		want   string
	}{
		{"plain", "mybook", "book_mybook"},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", "book_550e8400_e29b_41d4_a716_446655440000"},
		{"spaces and symbols", "My Book (2nd ed.)", "book_My_Book__2nd_ed__"},
		{"surrounding whitespace", "  abc  ", "book_abc"},
		{"dots and slashes", "a.b/c", "book_a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeCollectionName(tt.bookID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeCollectionName(%q) = %q, want %q", tt.bookID, got, tt.want)
			}
		})
	}
}

func TestSanitizeCollectionNameRejectsEmpty(t *testing.T) {
	for _, bookID := range []string{"", "   ", "\t\n"} {
		if _, err := SanitizeCollectionName(bookID); err == nil {
			t.Errorf("expected error for %q", bookID)
		}
	}
}

func TestSanitizeCollectionNameBoundsLength(t *testing.T) {
	got, err := SanitizeCollectionName(strings.Repeat("a", 500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxCollectionName {
		t.Errorf("len = %d, want %d", len(got), maxCollectionName)
	}
	if !strings.HasPrefix(got, collectionPrefix) {
		t.Errorf("name %q lost its prefix", got)
	}
}

func TestSanitizeCollectionNameDeterministic(t *testing.T) {
	a, _ := SanitizeCollectionName("book-1")
	b, _ := SanitizeCollectionName("book-1")
	if a != b {
		t.Errorf("same bookID produced different names: %q vs %q", a, b)
	}
}
