package headers

import (
	"net/http"
	"testing"
)

// TestEmptyCurl reproduces a bare curl request with no headers.
func TestEmptyCurl(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "curl/8.1.2")

	v := Evaluate(h)

	if v.Score != 100 {
		t.Errorf("score = %d, want 100", v.Score)
	}
	if v.Verdict != "bot" {
		t.Errorf("verdict = %q, want bot", v.Verdict)
	}
	if v.Confidence != "high" {
		t.Errorf("confidence = %q, want high", v.Confidence)
	}

	want := map[string]int{
		"botUserAgent":      30,
		"shortUserAgent":    15,
		"noAcceptHeader":    10,
		"noAcceptLanguage":  15,
		"noAcceptEncoding":  10,
		"noSecFetch":        15,
		"noSecChUa":         8,
		"noConnection":      5,
		"noUpgradeInsecure": 5,
	}
	got := make(map[string]int)
	for _, s := range v.Signals {
		got[s.Name] = s.Weight
	}
	for name, w := range want {
		gw, ok := got[name]
		if !ok {
			t.Errorf("expected signal %q to be detected", name)
			continue
		}
		if gw != w {
			t.Errorf("signal %q weight = %d, want %d", name, gw, w)
		}
	}
	if len(got) != len(want) {
		t.Errorf("detected signal count = %d, want %d (%v)", len(got), len(want), got)
	}
}

func TestCleanBrowserHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-CH-UA", `"Chromium";v="120"`)
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")

	v := Evaluate(h)
	if v.Verdict != "human" {
		t.Errorf("verdict = %q, want human (score=%d, signals=%v)", v.Verdict, v.Score, v.Signals)
	}
}

func TestEveryRuleHasDistinctReasons(t *testing.T) {
	h := http.Header{}
	detected := Rules(h)
	h2 := http.Header{}
	h2.Set("User-Agent", "Mozilla/5.0 real browser string long enough")
	h2.Set("Accept", "text/html")
	h2.Set("Accept-Language", "en-US")
	h2.Set("Accept-Encoding", "gzip")
	h2.Set("Sec-Fetch-Dest", "document")
	h2.Set("Sec-CH-UA", "x")
	h2.Set("Connection", "keep-alive")
	h2.Set("Upgrade-Insecure-Requests", "1")
	notDetected := Rules(h2)

	if len(detected) != len(notDetected) {
		t.Fatalf("rule count mismatch: %d vs %d", len(detected), len(notDetected))
	}
	for i := range detected {
		if detected[i].Name != notDetected[i].Name {
			continue
		}
		if detected[i].Detected == notDetected[i].Detected {
			continue
		}
		if detected[i].Reason == notDetected[i].Reason {
			t.Errorf("rule %q: detected and not-detected reasons are identical: %q", detected[i].Name, detected[i].Reason)
		}
	}
}
