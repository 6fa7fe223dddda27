package signal

import (
	"net/http"
	"testing"
)

func TestEarlyRejectMissingBundle(t *testing.T) {
	b := Bundle{}
	if !ShouldEarlyReject(b) {
		t.Fatal("empty bundle should trigger early reject")
	}
}

func TestEarlyRejectCleanBrowserNoChallenge(t *testing.T) {
	// Scenario 6: a bundle that passes the screen/window/navigator checks
	// but omits jsChallenge.
	b := Bundle{
		"screen":    map[string]interface{}{"width": 1920.0, "height": 1080.0},
		"window":    map[string]interface{}{"innerWidth": 1920.0},
		"navigator": map[string]interface{}{"userAgent": "Mozilla/5.0 real browser"},
	}
	if !ShouldEarlyReject(b) {
		t.Fatal("bundle without jsChallenge.valid==true must still early-reject")
	}
}

func TestHeadlessChromeFingerprint(t *testing.T) {
	// Scenario 5.
	b := Bundle{
		"screen": map[string]interface{}{"width": 1920.0, "height": 1080.0},
		"window": map[string]interface{}{"innerWidth": 1920.0, "innerHeight": 1080.0, "outerWidth": 1920.0, "outerHeight": 1080.0},
		"navigator": map[string]interface{}{
			"userAgent":  "Mozilla/5.0 HeadlessChrome/120.0.0.0",
			"webdriver":  true,
			"platform":   "Win32",
			"vendor":     "Google Inc.",
			"product":    "Gecko",
			"appName":    "Netscape",
			"language":   "en-US",
			"languages":  []interface{}{"en-US"},
		},
		"webgl": map[string]interface{}{
			"unmaskedRenderer": "Google SwiftShader",
			"unmaskedVendor":   "Google Inc.",
			"extensions":       []interface{}{"a", "b"},
		},
		"plugins":  map[string]interface{}{"length": 0.0},
		"fonts":    map[string]interface{}{"length": 3.0},
		"timezone": map[string]interface{}{"timezone": "America/New_York", "offset": -300.0},
		"jsChallenge": map[string]interface{}{
			"valid": true,
		},
	}

	if ShouldEarlyReject(b) {
		t.Fatal("bundle with valid jsChallenge should not early-reject")
	}

	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 HeadlessChrome/120.0.0.0")

	v := Evaluate(b, h)

	want := map[string]int{
		"webdriver":        30,
		"headlessUA":       25,
		"softwareRenderer": 20,
		"missingChrome":    20,
		"noPlugins":        15,
		"botUserAgent":     25,
	}
	got := make(map[string]int)
	for _, s := range v.Signals {
		got[s.Name] = s.Weight
	}
	for name, w := range want {
		gw, ok := got[name]
		if !ok {
			t.Errorf("expected signal %q to be detected (all detected: %v)", name, got)
			continue
		}
		if gw != w {
			t.Errorf("signal %q weight = %d, want %d", name, gw, w)
		}
	}

	if v.Score != 100 {
		t.Errorf("score = %d, want 100 (capped)", v.Score)
	}
	if v.Verdict != "bot" {
		t.Errorf("verdict = %q, want bot", v.Verdict)
	}
}

func TestAnalysisMissingBundleProducesEarlyReject(t *testing.T) {
	b := Bundle{}
	if !ShouldEarlyReject(b) {
		t.Fatal("{} bundle must early-reject")
	}
}

func TestSignalsByCategoryGroupsAllSignals(t *testing.T) {
	b := Bundle{}
	h := http.Header{}
	v := Evaluate(b, h)

	total := 0
	for _, sigs := range v.SignalsByCategory {
		total += len(sigs)
	}
	if total != len(v.AllSignals) {
		t.Errorf("signalsByCategory total = %d, want %d", total, len(v.AllSignals))
	}
	if v.Summary.Flagged+v.Summary.Passed != v.Summary.TotalChecks {
		t.Errorf("flagged+passed = %d, want totalChecks %d", v.Summary.Flagged+v.Summary.Passed, v.Summary.TotalChecks)
	}
}

func TestPrimarySubtagComparison(t *testing.T) {
	if primarySubtag("en-US") != primarySubtag("en-GB") {
		t.Error("en-US and en-GB should share the same primary subtag")
	}
	if primarySubtag("fr-FR") == primarySubtag("en-US") {
		t.Error("fr-FR and en-US should not share a primary subtag")
	}
}
