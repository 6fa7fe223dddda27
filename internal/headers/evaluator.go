// Package headers implements the Header Evaluator: a pure scoring function
// over request headers alone, used for lightweight classification of
// non-document, non-analysis-endpoint requests.
package headers

import (
	"fmt"
	"strings"

	"github.com/shortontech/sentry/internal/verdict"
)

// botPatterns is the fixed, case-insensitive substring list. The first
// match is preserved in the reason string.
var botPatterns = []string{
	"python", "curl", "wget", "axios", "node-fetch", "go-http", "java/",
	"libwww", "httpunit", "nutch", "phpcrawl", "msnbot", "scrapy",
	"mechanize", "phantom", "casper", "selenium", "webdriver",
	"chrome-lighthouse", "pingdom", "phantomjs", "headlesschrome", "httpie",
	"postman", "insomnia", "rest-client", "okhttp", "apache-http",
	// auxiliary crawler list
	"heritrix", "httrack", "teoma", "gigablast", "ia_archiver", "ezooms",
	"linkdex",
}

// HeaderGetter abstracts http.Header so callers can evaluate a plain map
// without depending on net/http.
type HeaderGetter interface {
	Get(key string) string
}

// MatchBotPattern returns the first bot pattern the UA matches (lowercased,
// substring), or "" if none match. Exported so the Signal Evaluator reuses
// the same canonical bot-pattern list rather than a second copy.
func MatchBotPattern(ua string) string {
	lower := strings.ToLower(ua)
	for _, p := range botPatterns {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

func matchBotPattern(ua string) string { return MatchBotPattern(ua) }

// Evaluate runs the header rule table over the given headers and returns the
// assembled Verdict.
func Evaluate(h HeaderGetter) verdict.Verdict {
	all := Rules(h)
	return verdict.Assemble(all)
}

// Rules returns every header rule, detected or not, in the order specified
// by the rule table. The Signal Evaluator does not call it: it keeps its
// own header rule table and shares only MatchBotPattern and the UA helpers.
func Rules(h HeaderGetter) []verdict.Signal {
	ua := h.Get("User-Agent")
	accept := h.Get("Accept")

	signals := make([]verdict.Signal, 0, 12)

	signals = append(signals, boolSignal("noUserAgent", 30, ua == "",
		"User-Agent header absent", "User-Agent header present"))

	shortUA := ua != "" && len(ua) < 20
	signals = append(signals, boolSignal("shortUserAgent", 15, shortUA,
		fmt.Sprintf("User-Agent suspiciously short (len=%d)", len(ua)),
		"User-Agent length within normal range"))

	botMatch := matchBotPattern(ua)
	signals = append(signals, boolSignal("botUserAgent", 30, botMatch != "",
		fmt.Sprintf("User-Agent matches known bot pattern %q", botMatch),
		"User-Agent does not match any known bot pattern"))

	signals = append(signals, boolSignal("headlessUA", 25, strings.Contains(strings.ToLower(ua), "headless"),
		"User-Agent contains \"headless\"", "User-Agent does not mention headless"))

	signals = append(signals, boolSignal("noAcceptHeader", 10, accept == "",
		"Accept header absent", "Accept header present"))

	nonBrowserAccept := accept != "" && !strings.Contains(accept, "text/html") && !strings.Contains(accept, "*/*")
	signals = append(signals, boolSignal("nonBrowserAccept", 10, nonBrowserAccept,
		"Accept header present but lacks text/html and */*", "Accept header looks browser-like"))

	signals = append(signals, boolSignal("noAcceptLanguage", 15, h.Get("Accept-Language") == "",
		"Accept-Language header absent", "Accept-Language header present"))

	signals = append(signals, boolSignal("noAcceptEncoding", 10, h.Get("Accept-Encoding") == "",
		"Accept-Encoding header absent", "Accept-Encoding header present"))

	noSecFetch := h.Get("Sec-Fetch-Dest") == "" && h.Get("Sec-Fetch-Mode") == "" && h.Get("Sec-Fetch-Site") == ""
	signals = append(signals, boolSignal("noSecFetch", 15, noSecFetch,
		"All Sec-Fetch-* headers absent", "At least one Sec-Fetch-* header present"))

	signals = append(signals, boolSignal("noSecChUa", 8, h.Get("Sec-CH-UA") == "",
		"Sec-CH-UA header absent", "Sec-CH-UA header present"))

	signals = append(signals, boolSignal("noConnection", 5, h.Get("Connection") == "",
		"Connection header absent", "Connection header present"))

	signals = append(signals, boolSignal("noUpgradeInsecure", 5, h.Get("Upgrade-Insecure-Requests") == "",
		"Upgrade-Insecure-Requests header absent", "Upgrade-Insecure-Requests header present"))

	for i := range signals {
		signals[i].Category = verdict.CategoryHeaders
	}
	return signals
}

func boolSignal(name string, weight int, detected bool, detectedReason, notReason string) verdict.Signal {
	reason := notReason
	if detected {
		reason = detectedReason
	}
	return verdict.Signal{
		Name:     name,
		Weight:   weight,
		Detected: detected,
		Reason:   reason,
		Category: verdict.CategoryHeaders,
	}
}
