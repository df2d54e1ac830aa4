package chatbot

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"RoleplayChat/internal/client"
	"RoleplayChat/internal/session"
)

type scriptedRemote struct {
	mu      sync.Mutex
	history map[string][]session.Turn
	deleted []string
}

func (r *scriptedRemote) History(ctx context.Context, id string) ([]session.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history[id]) == 0 {
		r.history[id] = []session.Turn{{Role: session.RoleAssistant, Content: session.Greeting}}
	}
	return append([]session.Turn(nil), r.history[id]...), nil
}

func (r *scriptedRemote) Append(ctx context.Context, id string, turns []session.Turn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reply := "Echo: " + turns[len(turns)-1].Content
	r.history[id] = append(turns, session.Turn{Role: session.RoleAssistant, Content: reply})
	return reply, nil
}

func (r *scriptedRemote) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func run(t *testing.T, script string) (string, *client.Manager, *scriptedRemote) {
	t.Helper()
	remote := &scriptedRemote{history: map[string][]session.Turn{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := client.NewManager(remote, &client.MemoryStore{}, logger)

	var out bytes.Buffer
	cb := NewChatBot(m, logger, strings.NewReader(script), &out)
	if err := cb.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String(), m, remote
}

func TestRunCreatesSessionAndChats(t *testing.T) {
	out, m, _ := run(t, "Hello there\n/quit\n")

	if !strings.Contains(out, session.Greeting) {
		t.Errorf("greeting not shown:\n%s", out)
	}
	if !strings.Contains(out, "Bot: Echo: Hello there") {
		t.Errorf("reply not shown:\n%s", out)
	}
	if !strings.HasSuffix(out, "Goodbye!\n") {
		t.Errorf("output does not end with Goodbye:\n%s", out)
	}

	cur, ok := m.Current()
	if !ok || cur.Title != "Hello there" || len(cur.Messages) != 3 {
		t.Errorf("session = %+v", cur)
	}
}

func TestCommands(t *testing.T) {
	script := strings.Join([]string{
		"first world",
		"/new",
		"second world",
		"/list",
		"/switch 2",
		"/rename The First World",
		"/history",
		"/delete",
		"/list",
		"/bogus",
		"/help",
	}, "\n") + "\n"

	out, m, remote := run(t, script)

	list := m.Sessions()
	if len(list) != 1 || list[0].Title != "second world" {
		t.Fatalf("sessions = %+v", list)
	}
	if len(remote.deleted) != 1 {
		t.Errorf("server deletes = %v", remote.deleted)
	}
	for _, want := range []string{
		"1. second world",
		"2. first world",
		"Renamed to: The First World",
		"--- The First World ---",
		"You: first world",
		"Error: unknown command: /bogus",
		"/switch <number|id>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestResolve(t *testing.T) {
	remote := &scriptedRemote{history: map[string][]session.Turn{}}
	m := client.NewManager(remote, &client.MemoryStore{}, nil)
	a := m.Create()
	b := m.Create()
	cb := NewChatBot(m, nil, strings.NewReader(""), io.Discard)

	if id, err := cb.resolve("1"); err != nil || id != b.ID {
		t.Errorf("resolve(1) = %q, %v", id, err)
	}
	if id, err := cb.resolve(a.ID); err != nil || id != a.ID {
		t.Errorf("resolve(id) = %q, %v", id, err)
	}
	if _, err := cb.resolve("3"); err == nil {
		t.Error("resolve(3) should fail")
	}
	if _, err := cb.resolve("zzz"); err == nil {
		t.Error("resolve(zzz) should fail")
	}
}
