// Package mdnsquery implements the Query Scheduler (spec §4.B): it
// maintains the set of currently-active mDNS queries and re-announces
// them on an exponential backoff, merging known answers in as
// known-answer-suppression hints. Grounded on the teacher's
// ticker-driven select loop (internal/daemon/convergence/loop.go's
// fullSyncInterval ticker), adapted from a fixed interval to the
// doubling 1.5s->1h schedule spec §4.B mandates.
package mdnsquery

import (
	"time"

	"matterctl/internal/matter/clock"
)

const (
	// InitialBackoff is 1.5s, the first re-announce interval after a
	// query's question set changes (spec §4.B).
	InitialBackoff = 1500 * time.Millisecond
	// MaxBackoff is 1 hour, the backoff ceiling.
	MaxBackoff = time.Hour
)

// DNSQuery is one outbound question.
type DNSQuery struct {
	Name  string
	Type  uint16
	Class uint16
}

// AnswerKey partitions cached answers for O(1) merge into outgoing
// known-answer-suppression lists (spec §3 "Active Query").
type AnswerKey struct {
	Name string
	Type uint16
}

// KnownAnswer is one cached record offered as a known-answer hint. RData
// is the pre-encoded resource-record data the mDNS engine reconstructs
// from its own cache; this package never interprets it, only packs it by
// size.
type KnownAnswer struct {
	Name         string
	Type         uint16
	Class        uint16
	TTLRemaining time.Duration
	RDataLen     int // wire size of RData, used for the 1500-byte packing budget
	RData        []byte
}

// ActiveQuery is the per-query-id record the scheduler tracks (spec §3).
type ActiveQuery struct {
	Queries []DNSQuery
	Answers map[AnswerKey][]KnownAnswer
}

// EmitFunc announces the combined set of all currently-active queries,
// with known answers merged in as suppression hints.
type EmitFunc func(queries []DNSQuery, answers map[AnswerKey][]KnownAnswer)

// Scheduler maintains active queries and drives the shared backoff timer.
// Owned by exactly one goroutine (the mDNS engine loop); no locking.
type Scheduler struct {
	clock clock.Clock
	emit  EmitFunc

	active  map[string]*ActiveQuery // query_id -> ActiveQuery
	backoff time.Duration
	timer   clock.Timer
}

// New creates a Scheduler. emit is called every time the scheduler wants
// to send an mDNS query packet — on first registration and on every
// backoff tick thereafter.
func New(c clock.Clock, emit EmitFunc) *Scheduler {
	return &Scheduler{
		clock:   c,
		emit:    emit,
		active:  make(map[string]*ActiveQuery),
		backoff: InitialBackoff,
	}
}

// Set merges queries/knownAnswers into the active query keyed by
// queryID, deduplicating by (name, type, class). If the resulting set is
// unchanged, no re-announcement happens (spec §4.B). A changed set fires
// immediately and restarts the shared backoff at its initial value.
func (s *Scheduler) Set(queryID string, queries []DNSQuery, knownAnswers map[AnswerKey][]KnownAnswer) {
	merged, changed := mergeQuery(s.active[queryID], queries, knownAnswers)
	if !changed {
		return
	}
	s.active[queryID] = merged
	s.fireNow()
	s.backoff = InitialBackoff
	s.rearm(s.backoff)
}

// Remove stops tracking queryID. If it was the last active query, the
// timer stops and the backoff resets to its initial value (spec §4.B).
func (s *Scheduler) Remove(queryID string) {
	if _, ok := s.active[queryID]; !ok {
		return
	}
	delete(s.active, queryID)
	if len(s.active) == 0 {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.backoff = InitialBackoff
	}
}

// Tick must be called by the engine's select loop when the scheduler's
// timer channel (Timer()) fires. It re-announces all active queries and
// doubles the backoff, capped at MaxBackoff.
func (s *Scheduler) Tick() {
	if len(s.active) == 0 {
		return
	}
	s.fireNow()
	next := s.backoff * 2
	if next > MaxBackoff {
		next = MaxBackoff
	}
	s.backoff = next
	s.rearm(s.backoff)
}

// Timer exposes the scheduler's current backoff timer channel for the
// engine's select loop, or nil if no query is active.
func (s *Scheduler) Timer() clock.Timer {
	return s.timer
}

func (s *Scheduler) fireNow() {
	if s.emit == nil {
		return
	}
	queries := make([]DNSQuery, 0)
	answers := make(map[AnswerKey][]KnownAnswer)
	for _, aq := range s.active {
		queries = append(queries, aq.Queries...)
		for k, v := range aq.Answers {
			answers[k] = append(answers[k], v...)
		}
	}
	s.emit(queries, answers)
}

func (s *Scheduler) rearm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.NewTimer(d)
}

func mergeQuery(existing *ActiveQuery, queries []DNSQuery, knownAnswers map[AnswerKey][]KnownAnswer) (*ActiveQuery, bool) {
	dedupedQueries := dedupQueries(queries)
	if existing == nil {
		return &ActiveQuery{Queries: dedupedQueries, Answers: cloneAnswers(knownAnswers)}, len(dedupedQueries) > 0 || len(knownAnswers) > 0
	}
	if queriesEqual(existing.Queries, dedupedQueries) && answersEqual(existing.Answers, knownAnswers) {
		return existing, false
	}
	return &ActiveQuery{Queries: dedupedQueries, Answers: cloneAnswers(knownAnswers)}, true
}

func dedupQueries(queries []DNSQuery) []DNSQuery {
	seen := make(map[DNSQuery]bool, len(queries))
	out := make([]DNSQuery, 0, len(queries))
	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func queriesEqual(a, b []DNSQuery) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[DNSQuery]int, len(a))
	for _, q := range a {
		seen[q]++
	}
	for _, q := range b {
		seen[q]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func answersEqual(a, b map[AnswerKey][]KnownAnswer) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
	}
	return true
}

func cloneAnswers(in map[AnswerKey][]KnownAnswer) map[AnswerKey][]KnownAnswer {
	out := make(map[AnswerKey][]KnownAnswer, len(in))
	for k, v := range in {
		cp := make([]KnownAnswer, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
