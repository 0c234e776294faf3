// Package metrics exports turn, token and semantic cache counters to
// Prometheus.
package metrics

import (
	"bytes"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const defaultNamespace = "semantic_chat"

// Cache lookup outcomes.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Recorder counts what happens to user turns. A nil *Recorder records nothing.
type Recorder struct {
	cacheLookups  *promclient.CounterVec
	cacheInserts  *promclient.CounterVec
	turns         *promclient.CounterVec
	tokens        *promclient.CounterVec
	saveConflicts promclient.Counter
}

// NewRecorder registers the counters on reg, reusing collectors that are
// already registered under the same names.
func NewRecorder(namespace string, reg promclient.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	r := &Recorder{
		cacheLookups: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by outcome.",
		}, []string{"outcome"}),
		cacheInserts: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cache_inserts_total",
			Help:      "Semantic cache inserts by result.",
		}, []string{"result"}),
		turns: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "User turns by final status.",
		}, []string{"status"}),
		tokens: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens charged to sessions by kind.",
		}, []string{"kind"}),
		saveConflicts: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "save_conflicts_total",
			Help:      "Turn saves retried after a concurrent session update.",
		}),
	}

	var err error
	if r.cacheLookups, err = registerCounterVec(reg, r.cacheLookups); err != nil {
		return nil, fmt.Errorf("register cache lookup counter: %w", err)
	}
	if r.cacheInserts, err = registerCounterVec(reg, r.cacheInserts); err != nil {
		return nil, fmt.Errorf("register cache insert counter: %w", err)
	}
	if r.turns, err = registerCounterVec(reg, r.turns); err != nil {
		return nil, fmt.Errorf("register turn counter: %w", err)
	}
	if r.tokens, err = registerCounterVec(reg, r.tokens); err != nil {
		return nil, fmt.Errorf("register token counter: %w", err)
	}
	if err := reg.Register(r.saveConflicts); err != nil {
		are, ok := err.(promclient.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register save conflict counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(promclient.Counter)
		if !ok {
			return nil, fmt.Errorf("register save conflict counter: %w", err)
		}
		r.saveConflicts = existing
	}
	return r, nil
}

func registerCounterVec(reg promclient.Registerer, c *promclient.CounterVec) (*promclient.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// CacheLookup counts a lookup with one of LookupHit, LookupMiss or LookupError.
func (r *Recorder) CacheLookup(outcome string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

// CacheInsert counts an insert and whether it failed.
func (r *Recorder) CacheInsert(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cacheInserts.WithLabelValues(result).Inc()
}

// TurnCompleted counts a persisted turn and the tokens charged for it.
func (r *Recorder) TurnCompleted(promptTokens, completionTokens int) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues("completed").Inc()
	r.tokens.WithLabelValues("prompt").Add(float64(promptTokens))
	r.tokens.WithLabelValues("completion").Add(float64(completionTokens))
}

// TurnFailed counts a turn that was left drafted.
func (r *Recorder) TurnFailed() {
	if r == nil {
		return
	}
	r.turns.WithLabelValues("failed").Inc()
}

// SaveConflict counts a retried turn save.
func (r *Recorder) SaveConflict() {
	if r == nil {
		return
	}
	r.saveConflicts.Inc()
}

// Exposition renders every metric of g in the Prometheus text format and
// returns it together with its content type.
func Exposition(g promclient.Gatherer) (string, string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", "", fmt.Errorf("metrics: gather: %w", err)
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", "", fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), string(format), nil
}
