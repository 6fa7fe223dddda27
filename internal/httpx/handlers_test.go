package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shortontech/sentry/internal/audit"
	"github.com/shortontech/sentry/internal/challenge"
	"github.com/shortontech/sentry/internal/logging"
	"github.com/shortontech/sentry/internal/tracker"
	"github.com/shortontech/sentry/internal/verdict"
	cfg "github.com/shortontech/sentry/pkg/config"
)

func noopOnTimeout(string, verdict.Verdict) {}

func testEnv() Env {
	return Env{
		Cfg:        cfg.Config{MaxBodyBytes: 1 << 20, StaticDir: "./testdata"},
		Log:        logging.New(),
		Challenges: challenge.New(),
		Tracker:    tracker.New(noopOnTimeout),
	}
}

func newTrackerEnv() Env {
	return Env{
		Cfg:        cfg.Config{MaxBodyBytes: 1 << 20, StaticDir: "./testdata"},
		Log:        logging.New(),
		Challenges: challenge.New(),
		Tracker:    tracker.New(noopOnTimeout),
	}
}

func TestChallengeIssue(t *testing.T) {
	e := testEnv()
	req := httptest.NewRequest(http.MethodGet, "/api/challenge", nil)
	w := httptest.NewRecorder()

	e.Challenge(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp challengeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.ChallengeID == "" {
		t.Error("expected non-empty challengeId")
	}
	if !strings.Contains(resp.Challenge, "function") {
		t.Errorf("challenge expression = %q, want a function literal", resp.Challenge)
	}
}

func TestChallengeIssueRejectsNonGet(t *testing.T) {
	e := testEnv()
	req := httptest.NewRequest(http.MethodPost, "/api/challenge", nil)
	w := httptest.NewRecorder()

	e.Challenge(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestChallengeVerifyHappyPath(t *testing.T) {
	e := testEnv()

	issueReq := httptest.NewRequest(http.MethodGet, "/api/challenge", nil)
	issueW := httptest.NewRecorder()
	e.Challenge(issueW, issueReq)
	var issued challengeResponse
	_ = json.Unmarshal(issueW.Body.Bytes(), &issued)

	var a, b int
	var op byte
	_, _ = fscanExpr(issued.Challenge, &a, &op, &b)
	answer := evalOp(a, op, b)

	body := `{"challengeId":"` + issued.ChallengeID + `","answer":` + itoaForTest(answer) +
		`,"timingProof":` + itoaForTest64(issued.TimingChallenge) + `,"executionTime":15}`
	req := httptest.NewRequest(http.MethodPost, "/api/challenge/verify", strings.NewReader(body))
	w := httptest.NewRecorder()
	e.ChallengeVerify(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp verifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Valid {
		t.Error("expected valid=true")
	}
	if !resp.TimingValid {
		t.Error("expected timingValid=true")
	}

	// second verify with the same id must fail — single-use redemption.
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/challenge/verify", strings.NewReader(body))
	e.ChallengeVerify(w2, req2)
	var resp2 verifyResponse
	_ = json.Unmarshal(w2.Body.Bytes(), &resp2)
	if resp2.Valid {
		t.Error("second verify with same id should be invalid")
	}
}

func TestVisitAcceptsArbitraryJSON(t *testing.T) {
	e := testEnv()
	req := httptest.NewRequest(http.MethodPost, "/api/visit", strings.NewReader(`{"anything":"goes"}`))
	w := httptest.NewRecorder()

	e.Visit(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestBotEmptyBundleEarlyRejects(t *testing.T) {
	e := newTrackerEnv()
	e.Tracker.Open("1.2.3.4")

	req := httptest.NewRequest(http.MethodPost, "/api/bot", strings.NewReader(`{}`))
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	w := httptest.NewRecorder()

	e.Bot(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["verdict"] != "bot" {
		t.Errorf("verdict = %v, want bot", body["verdict"])
	}
	if int(body["code"].(float64)) != 1005 {
		t.Errorf("code = %v, want 1005", body["code"])
	}
}

func TestVisitStatusNoSession(t *testing.T) {
	e := newTrackerEnv()
	req := httptest.NewRequest(http.MethodGet, "/api/visit-status", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	w := httptest.NewRecorder()

	e.VisitStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestEmitRecordCallsSink(t *testing.T) {
	var got audit.Record
	e := newTrackerEnv()
	e.Emit = func(r audit.Record) { got = r }

	req := httptest.NewRequest(http.MethodPost, "/api/bot", strings.NewReader(`{}`))
	req.Header.Set("X-Forwarded-For", "5.5.5.5")
	w := httptest.NewRecorder()
	e.Bot(w, req)

	if got.IP != "5.5.5.5" {
		t.Errorf("emitted record IP = %q, want 5.5.5.5", got.IP)
	}
	if got.Route != "/api/bot" {
		t.Errorf("emitted record Route = %q, want /api/bot", got.Route)
	}
}

// --- tiny helpers for parsing the challenge expression in tests ----------

func fscanExpr(expr string, a *int, op *byte, b *int) (int, error) {
	// expr looks like "(function(){return 7 + 13;})()"
	start := strings.Index(expr, "return ") + len("return ")
	end := strings.Index(expr, ";")
	body := strings.TrimSpace(expr[start:end])
	for _, candidate := range []byte{'+', '-', '*'} {
		if idx := strings.IndexByte(body, candidate); idx > 0 {
			*a = atoiForTest(strings.TrimSpace(body[:idx]))
			*b = atoiForTest(strings.TrimSpace(body[idx+1:]))
			*op = candidate
			return 3, nil
		}
	}
	return 0, nil
}

func evalOp(a int, op byte, b int) int {
	switch op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	}
	return 0
}

func atoiForTest(s string) int {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func itoaForTest64(n int64) string { return itoaForTest(int(n)) }
