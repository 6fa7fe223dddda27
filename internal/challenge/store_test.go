package challenge

import (
	"strings"
	"testing"
	"time"
)

func TestIssueProducesWellFormedExpression(t *testing.T) {
	s := New()
	issued, err := s.Issue("127.0.0.1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(issued.ID) != idLength {
		t.Errorf("id length = %d, want %d", len(issued.ID), idLength)
	}
	if !strings.HasPrefix(issued.Expression, "(function(){return ") {
		t.Errorf("expression = %q, unexpected shape", issued.Expression)
	}
}

func TestChallengeHappyPath(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return fixed })

	// The operands and operator are random, so the answer is recovered by
	// parsing the issued expression below.
	issued, err := s.Issue("1.2.3.4")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Parse "(function(){return A op B;})()" to recompute the answer,
	// mirroring what a client evaluating the expression would produce.
	expr := issued.Expression
	expr = strings.TrimPrefix(expr, "(function(){return ")
	expr = strings.TrimSuffix(expr, ";})()")
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		t.Fatalf("could not parse expression %q", issued.Expression)
	}
	var a, b int
	fscan(parts[0], &a)
	fscan(parts[2], &b)
	var answer int
	switch parts[1] {
	case "+":
		answer = a + b
	case "-":
		answer = a - b
	case "*":
		answer = a * b
	}

	result := s.Verify(issued.ID, answer, fixed.UnixMilli(), 15)
	if !result.Valid {
		t.Errorf("expected valid=true, got %+v", result)
	}
	if !result.TimingValid {
		t.Errorf("expected timingValid=true, got %+v", result)
	}

	// Second verify with same id must fail: single-use redemption.
	second := s.Verify(issued.ID, answer, fixed.UnixMilli(), 15)
	if second.Valid {
		t.Error("second verify with same id should be invalid")
	}
	if second.Reason != "Challenge not found or expired" {
		t.Errorf("reason = %q, want standard not-found message", second.Reason)
	}
}

func TestVerifyUnknownID(t *testing.T) {
	s := New()
	result := s.Verify("doesnotexist1", 42, time.Now().UnixMilli(), 10)
	if result.Valid {
		t.Error("unknown id should not be valid")
	}
	if result.Reason != "Challenge not found or expired" {
		t.Errorf("reason = %q, want standard message", result.Reason)
	}
}

func TestIssueGCsOldEntries(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return cur })

	first, err := s.Issue("1.1.1.1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	cur = cur.Add(61 * time.Second)
	if _, err := s.Issue("2.2.2.2"); err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}

	result := s.Verify(first.ID, 0, cur.UnixMilli(), 10)
	if result.Valid {
		t.Error("entry older than 60s should have been GC'd and thus invalid")
	}
}

// fscan is a tiny helper to avoid pulling in fmt.Sscanf for a single int.
func fscan(s string, out *int) {
	neg := false
	i := 0
	if len(s) > 0 && s[0] == '-' {
		neg = true
		i = 1
	}
	v := 0
	for ; i < len(s); i++ {
		v = v*10 + int(s[i]-'0')
	}
	if neg {
		v = -v
	}
	*out = v
}
