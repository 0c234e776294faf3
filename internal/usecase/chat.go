package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semantic-chat/internal/domain"
)

const defaultSaveMaxAttempts = 3

const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
)

// SessionStore persists sessions and their messages. Every write of a single
// session is scoped to that session's partition.
type SessionStore interface {
	MessageLister
	InsertSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	RenameSession(ctx context.Context, sessionID, name string) error
	InsertMessage(ctx context.Context, msg domain.Message) error
	// SaveTurn atomically writes the completed message and the session
	// counter, failing with domain.ErrConflict if the session version moved.
	SaveTurn(ctx context.Context, msg domain.Message, s domain.Session) error
	DeleteSessionAndMessages(ctx context.Context, sessionID string) error
}

// CompletionEngine generates a completion for a chat transcript.
type CompletionEngine interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, sampling domain.Sampling) (domain.Completion, error)
}

type TokenCounter interface {
	Count(text string) int
}

// Recorder receives turn and cache outcomes.
type Recorder interface {
	CacheLookup(outcome string)
	CacheInsert(err error)
	TurnCompleted(promptTokens, completionTokens int)
	TurnFailed()
	SaveConflict()
}

type noopRecorder struct{}

func (noopRecorder) CacheLookup(string)     {}
func (noopRecorder) CacheInsert(error)      {}
func (noopRecorder) TurnCompleted(int, int) {}
func (noopRecorder) TurnFailed()            {}
func (noopRecorder) SaveConflict()          {}

// ChatService runs user turns and the session operations around them.
type ChatService struct {
	store    SessionStore
	window   *WindowAssembler
	cache    *SemanticCache
	engine   CompletionEngine
	counter  TokenCounter
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	maxTokens   int
	maxAttempts int
}

type Option func(*ChatService)

// WithMaxConversationTokens sets the context window budget.
func WithMaxConversationTokens(n int) Option {
	return func(s *ChatService) { s.maxTokens = n }
}

// WithSaveMaxAttempts bounds how often a turn save is retried after a
// concurrent update of the same session.
func WithSaveMaxAttempts(n int) Option {
	return func(s *ChatService) { s.maxAttempts = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *ChatService) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

func NewChatService(store SessionStore, cache *SemanticCache, engine CompletionEngine, counter TokenCounter, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if cache == nil {
		return nil, errors.New("usecase: semantic cache must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: completion engine must not be nil")
	}
	if counter == nil {
		return nil, errors.New("usecase: token counter must not be nil")
	}
	s := &ChatService{
		store:       store,
		cache:       cache,
		engine:      engine,
		counter:     counter,
		recorder:    noopRecorder{},
		logger:      zap.NewNop(),
		now:         time.Now,
		maxTokens:   defaultMaxConversationTokens,
		maxAttempts: defaultSaveMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultSaveMaxAttempts
	}
	window, err := NewWindowAssembler(store, s.maxTokens)
	if err != nil {
		return nil, err
	}
	s.window = window
	return s, nil
}

// GetCompletion runs one user turn: it drafts the message, answers it from the
// semantic cache or the engine, and saves the completion together with the
// session token counter.
func (s *ChatService) GetCompletion(ctx context.Context, sessionID, prompt string) (domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Message{}, newError(ErrorInvalidArgument, "empty_session_id", nil)
	}
	if strings.TrimSpace(prompt) == "" {
		return domain.Message{}, newError(ErrorInvalidArgument, "empty_prompt", nil)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return domain.Message{}, storeError("session_read_error", err)
	}

	msg := domain.Message{
		ID:           newUUID(),
		SessionID:    sessionID,
		Timestamp:    s.now().UTC(),
		Prompt:       prompt,
		PromptTokens: s.counter.Count(prompt),
		Status:       domain.StatusDrafted,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return domain.Message{}, storeError("draft_write_error", err)
	}
	log := s.logger.With(zap.String("session_id", sessionID), zap.String("message_id", msg.ID))

	window, err := s.window.Assemble(ctx, sessionID)
	if err != nil {
		return domain.Message{}, s.abandon(log, msg, "window_read_error", err)
	}

	lookup := s.lookup(ctx, log, window)
	if lookup.Hit {
		msg.Completion = lookup.Completion
		msg.CompletionTokens = 0
		msg.CacheHit = true
		log.Info("semantic cache hit", zap.String("entry_id", lookup.EntryID), zap.Float64("similarity", lookup.Similarity))
	} else {
		completion, err := s.engine.Chat(ctx, buildPromptMessages(systemPrompt, window), answerSampling)
		if err != nil {
			return domain.Message{}, s.abandon(log, msg, "completion_error", err)
		}
		msg.Completion = completion.Text
		msg.CompletionTokens = completion.CompletionTokens
		s.insert(ctx, log, lookup, completion.Text)
	}
	msg.Status = domain.StatusCompleted

	if err := s.saveTurn(ctx, log, msg); err != nil {
		return domain.Message{}, s.abandon(log, msg, "turn_write_error", err)
	}
	s.recorder.TurnCompleted(msg.PromptTokens, msg.CompletionTokens)
	log.Info("turn completed",
		zap.Int("window_turns", len(window)),
		zap.Int("prompt_tokens", msg.PromptTokens),
		zap.Int("completion_tokens", msg.CompletionTokens),
		zap.Bool("cache_hit", msg.CacheHit),
	)
	return msg, nil
}

// lookup never fails: a cache that cannot answer is a miss.
func (s *ChatService) lookup(ctx context.Context, log *zap.Logger, window []domain.Message) LookupResult {
	res, err := s.cache.Lookup(ctx, window)
	if err != nil {
		s.recorder.CacheLookup(lookupError)
		log.Warn("semantic cache lookup failed", zap.Error(err))
		return LookupResult{Prompts: windowPrompts(window), Vector: res.Vector}
	}
	if res.Hit {
		s.recorder.CacheLookup(lookupHit)
	} else {
		s.recorder.CacheLookup(lookupMiss)
	}
	return res
}

// insert caches a fresh completion. Failures are logged and counted only.
func (s *ChatService) insert(ctx context.Context, log *zap.Logger, lookup LookupResult, completion string) {
	if completion == "" {
		log.Debug("empty completion not cached")
		return
	}
	err := s.cache.Insert(ctx, lookup.Prompts, lookup.Vector, completion)
	s.recorder.CacheInsert(err)
	if err != nil {
		log.Error("semantic cache insert failed", zap.Error(err))
	}
}

// saveTurn re-reads the session counter and persists the turn with it,
// retrying when another turn of the same session saved in between.
func (s *ChatService) saveTurn(ctx context.Context, log *zap.Logger, msg domain.Message) error {
	for attempt := 1; ; attempt++ {
		session, err := s.store.GetSession(ctx, msg.SessionID)
		if err != nil {
			return err
		}
		session.Tokens += msg.Tokens()
		err = s.store.SaveTurn(ctx, msg, session)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.maxAttempts {
			return err
		}
		s.recorder.SaveConflict()
		log.Warn("session changed during save, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (s *ChatService) abandon(log *zap.Logger, msg domain.Message, reason string, err error) error {
	s.recorder.TurnFailed()
	log.Error("turn left drafted", zap.String("reason", reason), zap.Error(err))
	return partialTurnError(msg.ID, reason, err)
}

// CreateSession starts an empty session with the default name.
func (s *ChatService) CreateSession(ctx context.Context) (domain.Session, error) {
	session := domain.Session{
		ID:        newUUID(),
		Name:      domain.DefaultSessionName,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return domain.Session{}, storeError("session_write_error", err)
	}
	s.logger.Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

// ListSessions returns every session, oldest first.
func (s *ChatService) ListSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, storeError("session_list_error", err)
	}
	return sessions, nil
}

// ListMessages returns the messages of a session in chronological order.
// Drafted messages are included; their completion is empty.
func (s *ChatService) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidArgument, "empty_session_id", nil)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, storeError("session_read_error", err)
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, storeError("message_list_error", err)
	}
	return msgs, nil
}

// RenameSession changes only the display name of a session.
func (s *ChatService) RenameSession(ctx context.Context, sessionID, name string) error {
	sessionID = strings.TrimSpace(sessionID)
	name = strings.TrimSpace(name)
	if sessionID == "" {
		return newError(ErrorInvalidArgument, "empty_session_id", nil)
	}
	if name == "" {
		return newError(ErrorInvalidArgument, "empty_name", nil)
	}
	if err := s.store.RenameSession(ctx, sessionID, name); err != nil {
		return storeError("session_rename_error", err)
	}
	return nil
}

// DeleteSession removes a session and all of its messages.
//
// The store may need several transactions for a long session. Messages go
// first and the session row last, so a delete that fails part way leaves the
// session listed and can simply be repeated.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidArgument, "empty_session_id", nil)
	}
	if err := s.store.DeleteSessionAndMessages(ctx, sessionID); err != nil {
		return storeError("session_delete_error", err)
	}
	s.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// SummarizeSessionName asks the engine for a short title of the whole
// conversation, renames the session to it and returns it.
func (s *ChatService) SummarizeSessionName(ctx context.Context, sessionID string) (string, error) {
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", newError(ErrorInvalidArgument, "empty_session", nil)
	}
	completion, err := s.engine.Chat(ctx, buildSummarizeMessages(conversationText(msgs)), summarizeSampling)
	if err != nil {
		return "", newError(ErrorDependency, "summarize_error", err)
	}
	name := normalizeSessionName(completion.Text)
	if name == "" {
		return "", newError(ErrorDependency, "empty_summary", nil)
	}
	if err := s.store.RenameSession(ctx, strings.TrimSpace(sessionID), name); err != nil {
		return "", storeError("session_rename_error", err)
	}
	return name, nil
}

// ClearCache drops every cached completion.
func (s *ChatService) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return newError(ErrorDependency, "cache_clear_error", err)
	}
	s.logger.Info("semantic cache cleared")
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
