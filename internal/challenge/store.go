// Package challenge implements the Challenge Store: issuance and
// single-use verification of short-lived arithmetic proofs of JS
// execution.
package challenge

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	idLength    = 13
	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	defaultTTL  = 60 * time.Second
	timingSlack = 1000 * time.Millisecond
	maxExecMs   = 5000 * time.Millisecond
)

var operators = []byte{'+', '-', '*'}

// entry is the stored state for one outstanding challenge.
type entry struct {
	expectedAnswer int
	issuedAt       time.Time
	issuerIP       string
}

// Issued is what Issue returns to the caller.
type Issued struct {
	ID         string
	Expression string
	IssuedAt   time.Time
}

// VerifyResult is what Verify returns.
type VerifyResult struct {
	Valid         bool
	TimingValid   bool
	ExecutionTime int
	SolveTime     time.Duration
	Reason        string
}

// Store is a mutex-protected map of outstanding challenges, keyed by their
// opaque id. The concurrency shape mirrors a per-IP timing tracker: one
// coarse lock guarding one small map, since each touch is O(1) work.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	ttl     time.Duration
}

// New creates an empty Store with the default 60s TTL. now defaults
// to time.Now; tests may override it via NewWithClock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Store with an injectable clock, for deterministic
// TTL/timing tests.
func NewWithClock(now func() time.Time) *Store {
	return NewConfigured(now, defaultTTL)
}

// NewConfigured is New with an explicit ttl, for deployments that override
// the default via CHALLENGE_TTL_MS.
func NewConfigured(now func() time.Time, ttl time.Duration) *Store {
	return &Store{entries: make(map[string]entry), now: now, ttl: ttl}
}

// Issue picks two uniform integers in [0,100), a uniform operator, computes
// the answer eagerly, and stores it under a fresh random id. GC of entries
// older than 60s runs opportunistically on every issue.
func (s *Store) Issue(issuerIP string) (Issued, error) {
	a, err := randIntBelow(100)
	if err != nil {
		return Issued{}, fmt.Errorf("challenge: generate operand a: %w", err)
	}
	b, err := randIntBelow(100)
	if err != nil {
		return Issued{}, fmt.Errorf("challenge: generate operand b: %w", err)
	}
	opIdx, err := randIntBelow(len(operators))
	if err != nil {
		return Issued{}, fmt.Errorf("challenge: select operator: %w", err)
	}
	op := operators[opIdx]

	var answer int
	switch op {
	case '+':
		answer = a + b
	case '-':
		answer = a - b
	case '*':
		answer = a * b
	}

	id, err := randomID()
	if err != nil {
		return Issued{}, fmt.Errorf("challenge: generate id: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	s.gcLocked(now)
	s.entries[id] = entry{expectedAnswer: answer, issuedAt: now, issuerIP: issuerIP}
	s.mu.Unlock()

	return Issued{
		ID:         id,
		Expression: fmt.Sprintf("(function(){return %d %c %d;})()", a, op, b),
		IssuedAt:   now,
	}, nil
}

// Verify consumes id (deleted whether or not the check passes) and reports
// correctness plus plausible client-side timing.
func (s *Store) Verify(id string, answer int, timingProofUnixMillis int64, executionTimeMs int) VerifyResult {
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok || now.Sub(e.issuedAt) > s.ttl {
		return VerifyResult{Valid: false, Reason: "Challenge not found or expired"}
	}

	valid := answer == e.expectedAnswer
	solveTime := now.Sub(e.issuedAt)

	issuedAtMillis := e.issuedAt.UnixMilli()
	withinTimingSlack := absInt64(timingProofUnixMillis-issuedAtMillis) <= timingSlack.Milliseconds()
	plausibleExecutionTime := executionTimeMs > 0 && time.Duration(executionTimeMs)*time.Millisecond < maxExecMs
	timingValid := withinTimingSlack && plausibleExecutionTime

	return VerifyResult{
		Valid:         valid,
		TimingValid:   timingValid,
		ExecutionTime: executionTimeMs,
		SolveTime:     solveTime,
	}
}

// gcLocked evicts entries older than ttl. Caller must hold s.mu.
func (s *Store) gcLocked(now time.Time) {
	for id, e := range s.entries {
		if now.Sub(e.issuedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func randIntBelow(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func randomID() (string, error) {
	out := make([]byte, idLength)
	for i := range out {
		idx, err := randIntBelow(len(idAlphabet))
		if err != nil {
			return "", err
		}
		out[i] = idAlphabet[idx]
	}
	return string(out), nil
}
