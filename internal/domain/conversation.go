package domain

import (
	"errors"
	"time"
)

const (
	// DefaultSessionName is shown until the conversation is summarized.
	DefaultSessionName = "New Chat"

	StatusDrafted   = "drafted"
	StatusCompleted = "completed"
)

var (
	// ErrNotFound is returned by stores when a session or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic concurrency check fails.
	ErrConflict = errors.New("version conflict")
)

// Session is a named conversation. Its ID doubles as the partition key of
// every message that belongs to it.
type Session struct {
	PK        string
	SK        string
	ID        string
	Name      string
	Tokens    int
	Version   int64
	CreatedAt time.Time
}

// Message is a single persisted conversation turn.
//
// A message is written twice: once as a draft with only the prompt fields set,
// and once more with the completion, together with the session counter.
type Message struct {
	PK               string
	SK               string
	ID               string
	SessionID        string
	Timestamp        time.Time
	Prompt           string
	PromptTokens     int
	Completion       string
	CompletionTokens int
	Status           string
	CacheHit         bool
}

// Tokens returns the cost of the turn for context window accounting.
func (m Message) Tokens() int {
	return m.PromptTokens + m.CompletionTokens
}

// Pending reports whether the turn never received its completion.
func (m Message) Pending() bool {
	return m.Status != StatusCompleted
}

// CacheEntry is a previously generated completion keyed by the embedding of the
// prompts that produced it.
type CacheEntry struct {
	ID         string
	Vector     []float32
	Prompts    string
	Completion string
	ExpiresAt  time.Time
	Similarity float64
}
