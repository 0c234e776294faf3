package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"semantic-chat/internal/domain"
)

// memStore is an in-memory SessionStore with the same version semantics as
// the DynamoDB repository.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	messages map[string][]domain.Message

	getSessionErr   error
	insertMsgErr    error
	listMessagesErr error
	saveErrs        []error

	// beforeSave runs once per SaveTurn call, before the version check.
	beforeSave func(m *memStore)

	getSessionCalls int
	saveCalls       int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]domain.Session),
		messages: make(map[string][]domain.Message),
	}
}

func (m *memStore) InsertSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return domain.ErrConflict
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSessionCalls++
	if m.getSessionErr != nil {
		return domain.Session{}, m.getSessionErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) ListSessions(_ context.Context) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) RenameSession(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Name = name
	m.sessions[id] = s
	return nil
}

func (m *memStore) ListMessages(_ context.Context, id string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listMessagesErr != nil {
		return nil, m.listMessagesErr
	}
	out := make([]domain.Message, len(m.messages[id]))
	copy(out, m.messages[id])
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertMsgErr != nil {
		return m.insertMsgErr
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *memStore) SaveTurn(_ context.Context, msg domain.Message, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.beforeSave != nil {
		m.beforeSave(m)
	}
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	current, ok := m.sessions[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != s.Version {
		return fmt.Errorf("session %q: %w", s.ID, domain.ErrConflict)
	}
	msgs := m.messages[msg.SessionID]
	idx := -1
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			idx = i
		}
	}
	if idx < 0 || msgs[idx].Status != domain.StatusDrafted {
		return domain.ErrNotFound
	}
	msgs[idx] = msg
	current.Tokens = s.Tokens
	current.Version++
	m.sessions[s.ID] = current
	return nil
}

func (m *memStore) DeleteSessionAndMessages(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) session(id string) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memStore) stored(id string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.messages[id]))
	copy(out, m.messages[id])
	return out
}

type engineCall struct {
	messages []domain.ChatMessage
	sampling domain.Sampling
}

type fakeEngine struct {
	mu     sync.Mutex
	text   string
	tokens int
	err    error
	calls  []engineCall
	reply  func(messages []domain.ChatMessage) string
}

func (e *fakeEngine) Chat(_ context.Context, messages []domain.ChatMessage, sampling domain.Sampling) (domain.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{messages: messages, sampling: sampling})
	if e.err != nil {
		return domain.Completion{}, e.err
	}
	text := e.text
	if e.reply != nil {
		text = e.reply(messages)
	}
	return domain.Completion{Text: text, PromptTokens: 99, CompletionTokens: e.tokens}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) lastCall() engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

// letterEmbedder maps text to its letter histogram, so equal texts embed
// identically and unrelated texts land far apart.
type letterEmbedder struct {
	mu     sync.Mutex
	err    error
	inputs []string
}

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, text)
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		} else {
			vec[26]++
		}
	}
	return vec, nil
}

func (e *letterEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inputs)
}

// memVectors is a brute-force cosine VectorStore.
type memVectors struct {
	mu        sync.Mutex
	entries   []domain.CacheEntry
	queryErr  error
	upsertErr error
	clearErr  error
	lastMin   float64
}

func (v *memVectors) NearestNeighbor(_ context.Context, vec []float32, minSimilarity float64) (domain.CacheEntry, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastMin = minSimilarity
	if v.queryErr != nil {
		return domain.CacheEntry{}, false, v.queryErr
	}
	best, bestSim := -1, -2.0
	for i, e := range v.entries {
		if sim := cosine(vec, e.Vector); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 || bestSim <= minSimilarity {
		return domain.CacheEntry{}, false, nil
	}
	e := v.entries[best]
	e.Similarity = bestSim
	return e, true, nil
}

func (v *memVectors) UpsertCacheEntry(_ context.Context, e domain.CacheEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.upsertErr != nil {
		return v.upsertErr
	}
	v.entries = append(v.entries, e)
	return nil
}

func (v *memVectors) DeleteAllCacheEntries(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.clearErr != nil {
		return v.clearErr
	}
	v.entries = nil
	return nil
}

func (v *memVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type countingRecorder struct {
	mu            sync.Mutex
	lookups       map[string]int
	insertsOK     int
	insertsFailed int
	completed     int
	failed        int
	conflicts     int
	promptTokens  int
	complTokens   int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{lookups: make(map[string]int)}
}

func (r *countingRecorder) CacheLookup(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[outcome]++
}

func (r *countingRecorder) CacheInsert(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.insertsFailed++
		return
	}
	r.insertsOK++
}

func (r *countingRecorder) TurnCompleted(p, c int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.promptTokens += p
	r.complTokens += c
}

func (r *countingRecorder) TurnFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *countingRecorder) SaveConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

var errBoom = errors.New("boom")
