package session

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"assistant", RoleAssistant, false},
		{"system", "", true},
		{"", "", true},
		{"User", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRole) {
				t.Errorf("ParseRole(%q) error = %v, want ErrInvalidRole", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleFrom(t *testing.T) {
	long := strings.Repeat("a", 80)
	if got := TitleFrom(long); len(got) != TitleLimit {
		t.Errorf("len(TitleFrom(long)) = %d, want %d", len(got), TitleLimit)
	}
	if got := TitleFrom("  short  "); got != "short" {
		t.Errorf("TitleFrom = %q, want %q", got, "short")
	}

	// Multi-byte characters count as one.
	accented := strings.Repeat("é", 60)
	if got := TitleFrom(accented); got != strings.Repeat("é", 50) {
		t.Errorf("TitleFrom(accented) has %d bytes", len(got))
	}
}

func TestTitleUnset(t *testing.T) {
	for _, title := range []string{"", "  ", DefaultTitle} {
		s := Session{Title: title}
		if !s.TitleUnset() {
			t.Errorf("TitleUnset(%q) = false, want true", title)
		}
	}
	s := Session{Title: "The dragon's keep"}
	if s.TitleUnset() {
		t.Error("TitleUnset should be false for a named session")
	}
}

func TestCloneDoesNotShareMessages(t *testing.T) {
	s := Session{ID: "a", Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	c := s.Clone()
	c.Messages[0].Content = "changed"
	if s.Messages[0].Content != "hi" {
		t.Error("Clone shares the message slice with the original")
	}
}

func TestTurns(t *testing.T) {
	s := Session{Messages: []Message{
		{ID: "1", Role: RoleAssistant, Content: Greeting},
		{ID: "2", Role: RoleUser, Content: "Hello", Pending: true},
	}}
	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[1] != (Turn{Role: RoleUser, Content: "Hello"}) {
		t.Errorf("turns[1] = %+v", turns[1])
	}
}
