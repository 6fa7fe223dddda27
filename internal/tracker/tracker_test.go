package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/shortontech/sentry/internal/verdict"
)

func TestOpenThenStatusPending(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewWithClock(nil, func() time.Time { return cur })

	tr.Open("1.2.3.4")
	s := tr.Status("1.2.3.4")
	if s.Verdict != Pending {
		t.Errorf("verdict = %q, want pending", s.Verdict)
	}
}

func TestDeadlineFiresTimeoutVerdict(t *testing.T) {
	var mu sync.Mutex
	var gotIP string
	var gotVerdict verdict.Verdict
	fired := make(chan struct{})

	tr := New(func(ip string, v verdict.Verdict) {
		mu.Lock()
		gotIP = ip
		gotVerdict = v
		mu.Unlock()
		close(fired)
	})

	tr.Open("5.6.7.8")

	select {
	case <-fired:
	case <-time.After(6 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotIP != "5.6.7.8" {
		t.Errorf("ip = %q, want 5.6.7.8", gotIP)
	}
	if gotVerdict.Code != 1006 {
		t.Errorf("code = %d, want 1006", gotVerdict.Code)
	}
	if gotVerdict.Verdict != verdict.Bot {
		t.Errorf("verdict = %q, want bot", gotVerdict.Verdict)
	}

	status := tr.Status("5.6.7.8")
	if status.Code != 1006 {
		t.Errorf("status code = %d, want 1006", status.Code)
	}
}

func TestAnalysisRequestedCancelsDeadline(t *testing.T) {
	called := false
	tr := New(func(ip string, v verdict.Verdict) { called = true })

	tr.Open("9.9.9.9")
	tr.MarkAnalysisRequested("9.9.9.9")

	time.Sleep(6 * time.Second)

	if called {
		t.Error("timeout callback should not fire once analysis was requested")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewWithClock(nil, func() time.Time { return cur })

	tr.Open("1.1.1.1")

	first := verdict.Assemble(nil)
	first.Code = 1005
	tr.Complete("1.1.1.1", first)

	second := verdict.Assemble(nil)
	second.Code = 9999
	tr.Complete("1.1.1.1", second)

	status := tr.Status("1.1.1.1")
	if status.Code != 1005 {
		t.Errorf("code = %d, want 1005 (first completion wins)", status.Code)
	}
}
