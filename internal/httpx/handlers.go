package httpx

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shortontech/sentry/internal/audit"
	"github.com/shortontech/sentry/internal/challenge"
	"github.com/shortontech/sentry/internal/logging"
	"github.com/shortontech/sentry/internal/metrics"
	"github.com/shortontech/sentry/internal/signal"
	"github.com/shortontech/sentry/internal/tracker"
	"github.com/shortontech/sentry/internal/verdict"
	cfg "github.com/shortontech/sentry/pkg/config"
)

// Env bundles everything a handler needs: configuration, the two
// stateful services (Challenges/Tracker), the structured logger, optional
// metrics, and an audit fan-out. Injected rather than reached for as
// globals.
type Env struct {
	Cfg        cfg.Config
	Log        *logging.Logger
	Metrics    *metrics.Metrics
	Challenges *challenge.Store
	Tracker    *tracker.Tracker
	Emit       func(audit.Record) // nil-safe; main wires this to the sink fan-out
}

// emitRecord fans the verdict out to the configured audit sinks, if any.
func (e Env) emitRecord(ip, route string, v verdict.Verdict) {
	if e.Emit == nil {
		return
	}
	e.Emit(audit.NewRecord(ip, route, v))
}

// --- /api/challenge --------------------------------------------------

type challengeResponse struct {
	ChallengeID     string `json:"challengeId"`
	Challenge       string `json:"challenge"`
	TimingChallenge int64  `json:"timingChallenge"`
}

// Challenge issues a new arithmetic proof-of-execution challenge.
func (e Env) Challenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)

	issued, err := e.Challenges.Issue(ip)
	if err != nil {
		http.Error(w, "failed to issue challenge", http.StatusInternalServerError)
		return
	}
	if e.Metrics != nil {
		e.Metrics.IncrementChallengesIssued()
	}

	writeJSON(w, http.StatusOK, challengeResponse{
		ChallengeID:     issued.ID,
		Challenge:       issued.Expression,
		TimingChallenge: issued.IssuedAt.UnixMilli(),
	})
}

// --- /api/challenge/verify --------------------------------------------

type verifyRequest struct {
	ChallengeID   string `json:"challengeId"`
	Answer        int    `json:"answer"`
	TimingProof   int64  `json:"timingProof"`
	ExecutionTime int    `json:"executionTime"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	TimingValid   bool   `json:"timingValid"`
	ExecutionTime int    `json:"executionTime"`
	SolveTime     int64  `json:"solveTime"`
	Reason        string `json:"reason,omitempty"`
}

// ChallengeVerify redeems a challenge id, consuming it whether or not the
// check passes.
func (e Env) ChallengeVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req verifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	result := e.Challenges.Verify(req.ChallengeID, req.Answer, req.TimingProof, req.ExecutionTime)
	if e.Metrics != nil {
		e.Metrics.IncrementChallengesVerified(result.Valid)
	}

	if e.Log != nil {
		e.Log.Log(logging.TagChallengeVerify, ip, map[string]interface{}{
			"challengeId": req.ChallengeID,
			"valid":       result.Valid,
			"timingValid": result.TimingValid,
		})
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:         result.Valid,
		TimingValid:   result.TimingValid,
		ExecutionTime: result.ExecutionTime,
		SolveTime:     result.SolveTime.Milliseconds(),
		Reason:        result.Reason,
	})
}

// --- /api/visit ---------------------------------------------------------

// Visit accepts an arbitrary client-metrics JSON blob for logging only.
func (e Env) Visit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var payload json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	if e.Log != nil {
		e.Log.Log(logging.TagVisit, ip, payload)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- /api/bot -------------------------------------------------------------

// Bot runs the full browser-bundle analysis: mark the session's
// analysis_requested flag, apply the early-reject path, or fall through to
// the Signal Evaluator, freezing whichever Verdict results as the
// session's final answer.
func (e Env) Bot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)

	if e.Tracker != nil {
		e.Tracker.MarkAnalysisRequested(ip)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var bundle signal.Bundle
	if len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &bundle); jsonErr != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if bundle == nil {
		bundle = signal.Bundle{}
	}

	var v verdict.Verdict
	if signal.ShouldEarlyReject(bundle) {
		v = verdict.EarlyReject()
	} else {
		v = signal.Evaluate(bundle, r.Header)
	}

	if e.Tracker != nil {
		e.Tracker.Complete(ip, v)
	}
	if e.Metrics != nil {
		e.Metrics.IncrementVerdictsIssued(string(v.Verdict))
	}
	if e.Log != nil {
		e.Log.Log(logging.TagBotAnalysis, ip, v)
	}
	e.emitRecord(ip, "/api/bot", v)

	writeJSON(w, http.StatusOK, v)
}

// --- /api/visit-status ----------------------------------------------------

type statusResponse struct {
	Verdict string `json:"verdict"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// VisitStatus answers a visit-status poll for the caller's IP.
func (e Env) VisitStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)

	status := e.Tracker.Status(ip)
	if e.Log != nil {
		e.Log.Log(logging.TagVisitStatus, ip, map[string]interface{}{
			"verdict": status.Verdict,
			"code":    status.Code,
		})
	}

	if status.Frozen != nil {
		writeJSON(w, http.StatusOK, status.Frozen)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Verdict: string(status.Verdict),
		Code:    status.Code,
		Reason:  status.Reason,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
