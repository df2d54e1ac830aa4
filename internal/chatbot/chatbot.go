package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"RoleplayChat/internal/session"
)

// Sessions is the client session manager the REPL drives.
type Sessions interface {
	Create() session.Session
	Select(ctx context.Context, id string) error
	Open(ctx context.Context, id string)
	Submit(ctx context.Context, text string) (session.Message, error)
	Delete(ctx context.Context, id string) error
	Rename(id, title string) error
	Sessions() []session.Session
	Current() (session.Session, bool)
}

// ChatBot represents the terminal front end
type ChatBot struct {
	sessions Sessions
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	prompt   bool
}

// NewChatBot creates a new ChatBot reading commands from in and printing to out
func NewChatBot(sessions Sessions, logger *slog.Logger, in io.Reader, out io.Writer) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{sessions: sessions, logger: logger, in: in, out: out, prompt: true}
}

// SetPrompt controls whether "You: " is printed before each read. Piped input turns it off.
func (cb *ChatBot) SetPrompt(enabled bool) {
	cb.prompt = enabled
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

// resolve maps a 1-based list position or a session id (or unique id prefix) to an id.
func (cb *ChatBot) resolve(ref string) (string, error) {
	list := cb.sessions.Sessions()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(list) {
			return "", fmt.Errorf("no session #%d", n)
		}
		return list[n-1].ID, nil
	}

	var match string
	for _, s := range list {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous session id: %s", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("unknown session: %s", ref)
	}
	return match, nil
}

func (cb *ChatBot) printHistory() {
	cur, ok := cb.sessions.Current()
	if !ok {
		cb.printf("No active session.\n")
		return
	}
	cb.printf("--- %s ---\n", cur.Title)
	for _, msg := range cur.Messages {
		speaker := "Bot"
		if msg.Role == session.RoleUser {
			speaker = "You"
		}
		marker := ""
		if msg.Pending {
			marker = " (unconfirmed)"
		}
		cb.printf("%s: %s%s\n", speaker, msg.Content, marker)
	}
	cb.printf("\n")
}

func (cb *ChatBot) printList() {
	list := cb.sessions.Sessions()
	if len(list) == 0 {
		cb.printf("No sessions. Type anything or /new to start one.\n")
		return
	}
	cur, _ := cb.sessions.Current()
	cb.printf("\nSessions:\n")
	for i, s := range list {
		active := ""
		if s.ID == cur.ID {
			active = " (current)"
		}
		cb.printf("%d. %s [%s] %d messages%s\n", i+1, s.Title, shortID(s.ID), len(s.Messages), active)
	}
	cb.printf("\n")
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		s := cb.sessions.Create()
		cb.sessions.Open(ctx, s.ID)
		cb.printf("Started new session: %s\n", s.ID)
		cb.printHistory()
		return false, nil

	case "/list":
		cb.printList()
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <number|id>")
		}
		id, err := cb.resolve(parts[1])
		if err != nil {
			return false, err
		}
		if err := cb.sessions.Select(ctx, id); err != nil {
			return false, err
		}
		cb.printHistory()
		return false, nil

	case "/rename":
		cur, ok := cb.sessions.Current()
		if !ok {
			return false, errors.New("no active session")
		}
		title := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))
		if err := cb.sessions.Rename(cur.ID, title); err != nil {
			return false, err
		}
		cb.printf("Renamed to: %s\n", title)
		return false, nil

	case "/delete":
		var id string
		if len(parts) > 1 {
			resolved, err := cb.resolve(parts[1])
			if err != nil {
				return false, err
			}
			id = resolved
		} else {
			cur, ok := cb.sessions.Current()
			if !ok {
				return false, errors.New("no active session")
			}
			id = cur.ID
		}
		if err := cb.sessions.Delete(ctx, id); err != nil {
			return false, err
		}
		cb.printf("Deleted session %s\n", shortID(id))
		if cur, ok := cb.sessions.Current(); ok {
			cb.sessions.Open(ctx, cur.ID)
			cb.printHistory()
		}
		return false, nil

	case "/history":
		cb.printHistory()
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /quit, /exit            - Exit the chat\n")
		cb.printf("  /new                    - Start a new roleplay\n")
		cb.printf("  /list                   - List sessions, newest first\n")
		cb.printf("  /switch <number|id>     - Switch to another session\n")
		cb.printf("  /rename <title>         - Rename the current session\n")
		cb.printf("  /delete [number|id]     - Delete a session (default: current)\n")
		cb.printf("  /history                - Show the current conversation\n")
		cb.printf("  /help                   - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// Run starts the chat loop. It returns when input ends, /quit is entered or ctx is done.
func (cb *ChatBot) Run(ctx context.Context) error {
	cur, ok := cb.sessions.Current()
	if !ok {
		cur = cb.sessions.Create()
	}
	cb.sessions.Open(ctx, cur.ID)

	cb.printf("=== Roleplay Chat ===\n")
	cb.printf("Type /help for commands, /quit to exit\n\n")
	cb.printHistory()

	scanner := bufio.NewScanner(cb.in)
	for {
		if ctx.Err() != nil {
			break
		}
		if cb.prompt {
			cb.printf("You: ")
		}
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.printf("Error: %v\n", err)
				cb.logger.Warn("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if _, ok := cb.sessions.Current(); !ok {
			s := cb.sessions.Create()
			cb.sessions.Open(ctx, s.ID)
		}

		reply, err := cb.sessions.Submit(ctx, input)
		if err != nil {
			cb.printf("Error: %v\n", err)
			continue
		}

		cb.printf("Bot: %s\n\n", reply.Content)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	cb.printf("Goodbye!\n")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
