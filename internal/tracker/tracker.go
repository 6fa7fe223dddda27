// Package tracker implements the Visit Tracker: a per-IP session state
// machine with a wall-clock deadline after which non-completion itself
// becomes the verdict.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/shortontech/sentry/internal/verdict"
)

const (
	defaultDeadline = 5 * time.Second
	defaultTTL      = 60 * time.Second
)

// PendingAnalysis and Pending are the non-terminal levels a status query
// can observe, alongside the terminal verdict.Level values.
const PendingAnalysis verdict.Level = "pending-analysis"
const Pending verdict.Level = "pending"

// Status is what a visit-status query returns.
type Status struct {
	Verdict verdict.Level
	Code    int
	Reason  string
	// Frozen carries the full Verdict when one has been produced.
	Frozen *verdict.Verdict
}

type session struct {
	startedAt         time.Time
	completed         bool
	analysisRequested bool
	timer             *time.Timer
	finalVerdict      *verdict.Verdict
}

// OnTimeout is invoked (with the logging tag "[bot-verdict]") whenever a
// session's deadline fires without a prior analysis request.
type OnTimeout func(ip string, v verdict.Verdict)

// Tracker owns the per-IP session map. One coarse mutex guards the whole
// map: sessions are small and touches are brief, so per-key locking would
// add complexity without a measurable benefit.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[string]*session
	now       func() time.Time
	onTimeout OnTimeout
	deadline  time.Duration
	ttl       time.Duration
}

// New creates a Tracker that calls onTimeout whenever a session's deadline
// passes before an analysis was requested, using the default 5s deadline /
// 60s GC horizon.
func New(onTimeout OnTimeout) *Tracker {
	return NewWithClock(onTimeout, time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(onTimeout OnTimeout, now func() time.Time) *Tracker {
	return NewConfigured(onTimeout, now, defaultDeadline, defaultTTL)
}

// NewConfigured is New with explicit deadline/ttl, for deployments that
// override the defaults via SESSION_DEADLINE_MS/SESSION_TTL_MS.
func NewConfigured(onTimeout OnTimeout, now func() time.Time, deadline, ttl time.Duration) *Tracker {
	return &Tracker{
		sessions:  make(map[string]*session),
		now:       now,
		onTimeout: onTimeout,
		deadline:  deadline,
		ttl:       ttl,
	}
}

// Open starts (or replaces) a session for ip on a document request: cancels
// any prior timer for this IP, installs a fresh session, and arms the 5s
// deadline. Sessions older than 60s are evicted opportunistically.
func (t *Tracker) Open(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gcLocked()

	if prev, ok := t.sessions[ip]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	s := &session{startedAt: t.now()}
	t.sessions[ip] = s
	s.timer = time.AfterFunc(t.deadline, func() { t.fireTimeout(ip, s) })
}

// fireTimeout is the deadline callback. It re-checks session identity
// because a replacement session may have been installed on the same IP
// between arming and firing.
func (t *Tracker) fireTimeout(ip string, fired *session) {
	t.mu.Lock()
	cur, ok := t.sessions[ip]
	if !ok || cur != fired {
		t.mu.Unlock()
		return
	}
	if cur.analysisRequested || cur.completed {
		t.mu.Unlock()
		return
	}
	v := verdict.TimeoutVerdict()
	cur.completed = true
	cur.finalVerdict = &v
	t.mu.Unlock()

	if t.onTimeout != nil {
		t.onTimeout(ip, v)
	}
}

// MarkAnalysisRequested sets the flag and cancels the deadline timer. It
// does not complete the session — the evaluator may still run and call
// Complete afterward.
func (t *Tracker) MarkAnalysisRequested(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[ip]
	if !ok {
		return
	}
	s.analysisRequested = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Complete freezes v as the session's final verdict, unless one was
// already frozen (e.g. by a racing deadline firing) — the completed flag
// is the sole authoritative guard against double verdict delivery.
func (t *Tracker) Complete(ip string, v verdict.Verdict) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[ip]
	if !ok {
		return
	}
	if s.completed {
		return
	}
	s.completed = true
	s.finalVerdict = &v
}

// Status answers a visit-status query.
func (t *Tracker) Status(ip string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[ip]
	if !ok {
		return Status{Verdict: verdict.Human, Reason: "no session for this IP"}
	}

	if s.finalVerdict != nil {
		return Status{Verdict: s.finalVerdict.Verdict, Code: s.finalVerdict.Code, Frozen: s.finalVerdict}
	}
	if s.completed && s.analysisRequested {
		return Status{Verdict: PendingAnalysis}
	}
	elapsed := t.now().Sub(s.startedAt)
	if !s.analysisRequested && elapsed > t.deadline {
		return Status{Verdict: verdict.Bot, Code: 1006}
	}
	remaining := t.deadline - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Status{Verdict: Pending, Reason: fmt.Sprintf("%.0fs remaining", remaining.Seconds())}
}

// gcLocked evicts sessions older than ttl. Caller must hold t.mu.
func (t *Tracker) gcLocked() {
	now := t.now()
	for ip, s := range t.sessions {
		if now.Sub(s.startedAt) > t.ttl {
			if s.timer != nil {
				s.timer.Stop()
			}
			delete(t.sessions, ip)
		}
	}
}
