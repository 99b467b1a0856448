package facematch

import (
	"errors"
	"testing"
)

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jan Novák", "jannovak"},
		{"anna-marie", "annamarie"},
		{"R2 D2", "r2d2"},
		{"Zoë", "zoe"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.expected {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestUniqueSlug(t *testing.T) {
	taken := map[string]bool{"anna": true, "anna2": true}
	got, err := UniqueSlug("anna", func(s string) (bool, error) { return taken[s], nil })
	if err != nil {
		t.Fatalf("UniqueSlug failed: %v", err)
	}
	if got != "anna3" {
		t.Errorf("expected anna3, got %s", got)
	}

	got, err = UniqueSlug("petr", func(s string) (bool, error) { return taken[s], nil })
	if err != nil {
		t.Fatalf("UniqueSlug failed: %v", err)
	}
	if got != "petr" {
		t.Errorf("expected petr, got %s", got)
	}

	boom := errors.New("db down")
	if _, err := UniqueSlug("x", func(string) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Errorf("expected lookup error to propagate, got %v", err)
	}
}
