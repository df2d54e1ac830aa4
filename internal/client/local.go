// Package client manages roleplay sessions on the user's side: the session
// list, its local persistence, and synchronisation with the session API.
package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"RoleplayChat/internal/session"

	bolt "go.etcd.io/bbolt"
)

const (
	// StorageKey is the single key the session list is stored under.
	StorageKey = "ai-roleplay-chats"

	bucketName = "local_storage"
)

// LocalStore persists the whole session list as one value.
type LocalStore interface {
	Load() ([]session.Session, error)
	Save(sessions []session.Session) error
	Clear() error
}

// BoltStore is a LocalStore backed by a bbolt file. The file is opened per
// operation so that several processes can share it.
type BoltStore struct {
	path    string
	timeout time.Duration
}

// OpenBoltStore prepares path for use, creating parent directories.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &BoltStore{path: path, timeout: 2 * time.Second}, nil
}

func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	return db, nil
}

// Load returns the stored sessions, or none if nothing was saved yet.
func (s *BoltStore) Load() ([]session.Session, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var raw []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(StorageKey)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeSessions(raw)
}

// Save replaces the stored session list.
func (s *BoltStore) Save(sessions []session.Session) error {
	enc, err := encodeSessions(sessions)
	if err != nil {
		return err
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return b.Put([]byte(StorageKey), enc)
	})
}

// Clear removes the stored session list entirely.
func (s *BoltStore) Clear() error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(StorageKey))
	})
}

// The on-disk layout keeps timestamps as unix milliseconds.
type storedMessage struct {
	ID        string       `json:"id"`
	Role      session.Role `json:"role"`
	Content   string       `json:"content"`
	Timestamp int64        `json:"timestamp"`
	Pending   bool         `json:"pending,omitempty"`
}

type storedSession struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []storedMessage `json:"messages"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
}

func encodeSessions(sessions []session.Session) ([]byte, error) {
	out := make([]storedSession, len(sessions))
	for i, s := range sessions {
		msgs := make([]storedMessage, len(s.Messages))
		for j, m := range s.Messages {
			msgs[j] = storedMessage{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: m.Timestamp.UnixMilli(),
				Pending:   m.Pending,
			}
		}
		out[i] = storedSession{
			ID:        s.ID,
			Title:     s.Title,
			Messages:  msgs,
			CreatedAt: s.CreatedAt.UnixMilli(),
			UpdatedAt: s.UpdatedAt.UnixMilli(),
		}
	}
	enc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	return enc, nil
}

func decodeSessions(raw []byte) ([]session.Session, error) {
	var stored []storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	out := make([]session.Session, len(stored))
	for i, s := range stored {
		msgs := make([]session.Message, len(s.Messages))
		for j, m := range s.Messages {
			msgs[j] = session.Message{
				ID:        m.ID,
				SessionID: s.ID,
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: time.UnixMilli(m.Timestamp),
				Pending:   m.Pending,
			}
		}
		out[i] = session.Session{
			ID:        s.ID,
			Title:     s.Title,
			Messages:  msgs,
			CreatedAt: time.UnixMilli(s.CreatedAt),
			UpdatedAt: time.UnixMilli(s.UpdatedAt),
		}
	}
	return out, nil
}

// MemoryStore is an in-process LocalStore.
type MemoryStore struct {
	raw []byte
}

func (m *MemoryStore) Load() ([]session.Session, error) {
	if len(m.raw) == 0 {
		return nil, nil
	}
	return decodeSessions(m.raw)
}

func (m *MemoryStore) Save(sessions []session.Session) error {
	enc, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	m.raw = enc
	return nil
}

func (m *MemoryStore) Clear() error {
	m.raw = nil
	return nil
}
