// Package chatapi is the session API: read, append to and delete the stored
// history of a chat session, calling the completion gateway for each turn.
package chatapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"RoleplayChat/internal/backend"
	"RoleplayChat/internal/session"
	"RoleplayChat/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// SystemPrompt frames every completion.
	SystemPrompt = "You are an AI designed for immersive roleplay. Stay in character, follow the world and " +
		"characters the user sets up, and remember every detail, event and character development " +
		"from the entire conversation so the narrative stays consistent and continuous."

	// Temperature favours creative replies.
	Temperature = 0.9

	// MaxOutputTokens caps the length of one reply.
	MaxOutputTokens = 2000
)

var (
	ErrSessionIDRequired = errors.New("sessionId is required")
	ErrNoMessages        = errors.New("messages are required")
	ErrLastTurnNotUser   = errors.New("last message must be a user message")
)

// IsValidation reports whether err was caused by a bad request rather than an upstream failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSessionIDRequired) ||
		errors.Is(err, ErrNoMessages) ||
		errors.Is(err, ErrLastTurnNotUser) ||
		errors.Is(err, session.ErrInvalidRole)
}

// Store is the subset of the message store the service needs.
type Store interface {
	Append(ctx context.Context, sessionID string, role session.Role, content string) (session.Message, error)
	SeedIfEmpty(ctx context.Context, sessionID, greeting string) ([]session.Message, bool, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
	Sessions(ctx context.Context) ([]store.Summary, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Service. Logger, Tracer and Meter are optional.
type Deps struct {
	Store   Store
	Gateway backend.Completer
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// Service implements the session operations independent of HTTP.
type Service struct {
	store     Store
	gateway   backend.Completer
	logger    *slog.Logger
	tracer    trace.Tracer
	persisted metric.Int64Counter
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider().Tracer("chatapi")
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider().Meter("chatapi")
	}

	persisted, err := d.Meter.Int64Counter(
		"chat.messages.persisted",
		metric.WithDescription("Messages written to the message store"),
	)
	if err != nil {
		d.Logger.Warn("failed to create counter", "name", "chat.messages.persisted", "error", err)
	}

	return &Service{
		store:     d.Store,
		gateway:   d.Gateway,
		logger:    d.Logger,
		tracer:    d.Tracer,
		persisted: persisted,
	}
}

// History returns the session's messages oldest first. A session with no
// stored messages is seeded with the greeting, which is then its whole history.
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}

	ctx, span := s.tracer.Start(ctx, "chat.history", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	messages, seeded, err := s.store.SeedIfEmpty(ctx, sessionID, session.Greeting)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history failed")
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if seeded {
		s.countPersisted(ctx, session.RoleAssistant)
	}
	span.SetAttributes(attribute.Int("messages", len(messages)), attribute.Bool("seeded", seeded))
	return messages, nil
}

// AppendTurn persists the last (user) turn, asks the gateway for a reply to
// the whole supplied conversation, persists the reply and returns it.
// The user turn stays stored even when the gateway or the second write fails.
func (s *Service) AppendTurn(ctx context.Context, sessionID string, turns []session.Turn) (session.Message, error) {
	if err := validateTurns(sessionID, turns); err != nil {
		return session.Message{}, err
	}

	ctx, span := s.tracer.Start(ctx, "chat.append_turn", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("turns", len(turns)),
	))
	defer span.End()

	fail := func(msg string, err error) (session.Message, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return session.Message{}, fmt.Errorf("%s: %w", msg, err)
	}

	userTurn := turns[len(turns)-1]
	if _, err := s.store.Append(ctx, sessionID, session.RoleUser, userTurn.Content); err != nil {
		return fail("failed to save user message", err)
	}
	s.countPersisted(ctx, session.RoleUser)

	completion, err := s.gateway.Complete(ctx, backend.Request{
		System:      SystemPrompt,
		Messages:    turns,
		Temperature: Temperature,
		MaxTokens:   MaxOutputTokens,
	})
	if err != nil {
		return fail("failed to generate response", err)
	}

	reply, err := s.store.Append(ctx, sessionID, session.RoleAssistant, completion.Text)
	if err != nil {
		return fail("failed to save assistant message", err)
	}
	s.countPersisted(ctx, session.RoleAssistant)

	s.logger.Info("turn appended", "session_id", sessionID, "turns", len(turns), "model", completion.Model)
	return reply, nil
}

// DeleteHistory removes every stored message of a session. Unknown sessions are not an error.
func (s *Service) DeleteHistory(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}

	ctx, span := s.tracer.Start(ctx, "chat.delete_history", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	n, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	s.logger.Info("history deleted", "session_id", sessionID, "rows", n)
	return n, nil
}

// Sessions lists the sessions that have stored messages.
func (s *Service) Sessions(ctx context.Context) ([]store.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "chat.sessions")
	defer span.End()

	summaries, err := s.store.Sessions(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return summaries, nil
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) countPersisted(ctx context.Context, role session.Role) {
	if s.persisted == nil {
		return
	}
	s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(role))))
}

func validateTurns(sessionID string, turns []session.Turn) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	if len(turns) == 0 {
		return ErrNoMessages
	}
	for i, turn := range turns {
		if _, err := session.ParseRole(string(turn.Role)); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	if turns[len(turns)-1].Role != session.RoleUser {
		return ErrLastTurnNotUser
	}
	return nil
}
