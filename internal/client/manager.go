package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"RoleplayChat/internal/cache"
	"RoleplayChat/internal/session"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned by Submit while an earlier submission is still outstanding.
	ErrBusy = errors.New("a reply is still pending")

	ErrNoSession      = errors.New("no active session")
	ErrUnknownSession = errors.New("unknown session")
	ErrEmptyTitle     = errors.New("title must not be empty")
)

// Remote is the session API as seen by the manager.
type Remote interface {
	History(ctx context.Context, sessionID string) ([]session.Turn, error)
	Append(ctx context.Context, sessionID string, turns []session.Turn) (string, error)
	Delete(ctx context.Context, sessionID string) error
}

// Manager owns the client's session list. The list is ordered newest first and
// every change is written to local storage. Network calls run without the lock held.
type Manager struct {
	remote Remote
	local  LocalStore
	logger *slog.Logger

	mu          sync.Mutex
	sessions    []session.Session
	currentID   string
	busy        bool
	busySession string

	// gen counts local changes to each session's messages so a history
	// fetch can tell whether it raced with one.
	gen map[string]uint64

	now   func() time.Time
	newID func() string
}

func NewManager(remote Remote, local LocalStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		remote: remote,
		local:  local,
		logger: logger,
		gen:    make(map[string]uint64),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Load replaces the in-memory list with what local storage holds and selects
// the first session when none is selected.
func (m *Manager) Load() error {
	sessions, err := m.local.Load()
	if err != nil {
		return fmt.Errorf("failed to load local sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
	if m.indexOf(m.currentID) < 0 {
		m.currentID = ""
		if len(m.sessions) > 0 {
			m.currentID = m.sessions[0].ID
		}
	}
	m.logger.Debug("local sessions loaded", "count", len(sessions))
	return nil
}

// Create starts an empty session, puts it first and selects it.
func (m *Manager) Create() session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := session.Session{
		ID:        m.newID(),
		Title:     session.DefaultTitle,
		Messages:  []session.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions = append([]session.Session{s}, m.sessions...)
	m.currentID = s.ID
	m.persistLocked()

	m.logger.Info("session created", "session_id", s.ID)
	return s.Clone()
}

// Select makes id the active session and refreshes it from the server.
func (m *Manager) Select(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.indexOf(id) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	m.currentID = id
	m.mu.Unlock()

	m.Open(ctx, id)
	return nil
}

// Open replaces the local messages of id with the server's history. Failures
// are logged and leave the local copy untouched, as does a local change to the
// session made while the history was in flight.
func (m *Manager) Open(ctx context.Context, id string) {
	m.mu.Lock()
	gen := m.gen[id]
	m.mu.Unlock()

	turns, err := m.remote.History(ctx, id)
	if err != nil {
		m.logger.Warn("failed to fetch chat history", "session_id", id, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return
	}
	if m.busy && m.busySession == id {
		m.logger.Debug("skipping history refresh during pending reply", "session_id", id)
		return
	}
	if m.gen[id] != gen {
		m.logger.Debug("skipping stale history refresh", "session_id", id)
		return
	}

	s := &m.sessions[i]
	if cache.InSync(s.Turns(), turns) {
		for j := range s.Messages {
			s.Messages[j].Pending = false
		}
	} else {
		m.logger.Info("local history differs from server, using server copy",
			"session_id", id,
			"local_messages", len(s.Messages),
			"server_messages", len(turns),
			"local_fingerprint", cache.Fingerprint(s.Turns()),
			"server_fingerprint", cache.Fingerprint(turns),
		)
		now := m.now()
		msgs := make([]session.Message, len(turns))
		for j, t := range turns {
			msgs[j] = session.Message{
				ID:        m.newID(),
				SessionID: id,
				Role:      t.Role,
				Content:   t.Content,
				Timestamp: now,
			}
		}
		s.Messages = msgs
		s.UpdatedAt = now
	}
	m.gen[id]++
	m.persistLocked()
}

// Submit sends text as the next user turn of the active session and returns the
// assistant reply. Blank text is ignored. On failure the user turn stays in the
// session marked pending and no reply is added.
func (m *Manager) Submit(ctx context.Context, text string) (session.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Message{}, nil
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return session.Message{}, ErrBusy
	}
	i := m.indexOf(m.currentID)
	if i < 0 {
		m.mu.Unlock()
		return session.Message{}, ErrNoSession
	}

	s := &m.sessions[i]
	id := s.ID
	userMsg := session.Message{
		ID:        m.newID(),
		SessionID: id,
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: m.now(),
		Pending:   true,
	}
	s.Messages = append(s.Messages, userMsg)
	s.UpdatedAt = userMsg.Timestamp
	turns := s.Turns()
	m.gen[id]++
	m.busy = true
	m.busySession = id
	m.persistLocked()
	m.mu.Unlock()

	reply, err := m.remote.Append(ctx, id, turns)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	m.busySession = ""

	if err != nil {
		m.logger.Error("failed to get response", "session_id", id, "error", err)
		return session.Message{}, fmt.Errorf("failed to get response: %w", err)
	}

	assistant := session.Message{
		ID:        m.newID(),
		SessionID: id,
		Role:      session.RoleAssistant,
		Content:   reply,
		Timestamp: m.now(),
	}

	i = m.indexOf(id)
	if i < 0 {
		// Deleted while the reply was in flight.
		return assistant, nil
	}
	s = &m.sessions[i]
	for j := range s.Messages {
		if s.Messages[j].ID == userMsg.ID {
			s.Messages[j].Pending = false
		}
	}
	s.Messages = append(s.Messages, assistant)
	if s.TitleUnset() {
		s.Title = session.TitleFrom(firstUserText(s.Messages))
	}
	s.UpdatedAt = assistant.Timestamp
	m.gen[id]++
	m.persistLocked()

	return assistant, nil
}

// Delete removes the session on the server and then locally. When the server
// refuses, local state is left unchanged.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.remote.Delete(ctx, id); err != nil {
		m.logger.Error("failed to delete chat history", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete chat history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil
	}
	m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
	delete(m.gen, id)
	if m.currentID == id {
		m.currentID = ""
		if len(m.sessions) > 0 {
			m.currentID = m.sessions[0].ID
		}
	}
	m.persistLocked()

	m.logger.Info("session deleted", "session_id", id, "remaining", len(m.sessions))
	return nil
}

// Rename sets the title of a session.
func (m *Manager) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	m.sessions[i].Title = title
	m.sessions[i].UpdatedAt = m.now()
	m.persistLocked()
	return nil
}

// Sessions returns a copy of the session list, newest first.
func (m *Manager) Sessions() []session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]session.Session, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.Clone()
	}
	return out
}

// Current returns a copy of the active session.
func (m *Manager) Current() (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(m.currentID)
	if i < 0 {
		return session.Session{}, false
	}
	return m.sessions[i].Clone(), true
}

// Busy reports whether a submission is outstanding.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// firstUserText returns the content of the earliest user message.
func firstUserText(msgs []session.Message) string {
	for _, msg := range msgs {
		if msg.Role == session.RoleUser {
			return msg.Content
		}
	}
	return ""
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the list to local storage; an empty list clears it.
func (m *Manager) persistLocked() {
	var err error
	if len(m.sessions) == 0 {
		err = m.local.Clear()
	} else {
		err = m.local.Save(m.sessions)
	}
	if err != nil {
		m.logger.Error("failed to persist sessions", "error", err)
	}
}
