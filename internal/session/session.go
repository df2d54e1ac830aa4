package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTitle is the title a session carries until its first user message names it.
	DefaultTitle = "New Roleplay"

	// TitleLimit is the maximum number of characters taken from a user message for a title.
	TitleLimit = 50

	// Greeting seeds the history of a session that has no stored messages.
	Greeting = "I am ready to begin our roleplay. What world shall we create together?"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidRole is returned for roles other than user and assistant.
var ErrInvalidRole = errors.New("invalid message role")

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Turn is the role/content pair exchanged over the wire and with the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message represents a single chat message
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Pending marks an optimistic user message the server has not confirmed yet.
	Pending bool `json:"pending,omitempty"`
}

// Turn strips the message down to what the model sees.
func (m Message) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// Session represents a chat session
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Turns returns the role/content pairs of every message in order.
func (s *Session) Turns() []Turn {
	turns := make([]Turn, len(s.Messages))
	for i, msg := range s.Messages {
		turns[i] = msg.Turn()
	}
	return turns
}

// TitleUnset reports whether the session still has no user-derived title.
func (s *Session) TitleUnset() bool {
	t := strings.TrimSpace(s.Title)
	return t == "" || t == DefaultTitle
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	if s.Messages != nil {
		msgs := make([]Message, len(s.Messages))
		copy(msgs, s.Messages)
		s.Messages = msgs
	}
	return s
}

// TitleFrom derives a session title from the first TitleLimit characters of text.
func TitleFrom(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= TitleLimit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:TitleLimit]))
}
