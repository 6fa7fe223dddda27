// Package signal implements the Signal Evaluator: the ~60-rule weighted
// scorer over a browser-environment bundle plus request headers.
package signal

import (
	"math"
	"strings"

	"github.com/shortontech/sentry/internal/headers"
	"github.com/shortontech/sentry/internal/verdict"
)

const mathAcosReference = 1.0471975511965979

// ShouldEarlyReject implements the early-reject guard: the analysis
// endpoint short-circuits before scoring when the bundle lacks any of
// {screen.width>0, navigator.userAgent, window object} or the JS challenge
// outcome is not explicitly valid.
func ShouldEarlyReject(b Bundle) bool {
	if b.GetNumber("screen.width", 0) <= 0 {
		return true
	}
	if b.GetString("navigator.userAgent", "") == "" {
		return true
	}
	if !b.Has("window") {
		return true
	}
	if !b.GetBool("jsChallenge.valid", false) {
		return true
	}
	return false
}

// Evaluate runs every rule family against the bundle and request headers
// and returns the assembled Verdict. Callers must have already checked
// ShouldEarlyReject and used verdict.EarlyReject() instead when it's true.
func Evaluate(b Bundle, h headers.HeaderGetter) verdict.Verdict {
	all := make([]verdict.Signal, 0, 64)
	all = append(all, automationSignals(b)...)
	all = append(all, essentialDataSignals(b)...)
	all = append(all, browserFeatureSignals(b)...)
	all = append(all, webglSignals(b)...)
	all = append(all, screenSignals(b)...)
	all = append(all, consistencySignals(b, h)...)
	all = append(all, timingSignals(b)...)
	all = append(all, fingerprintSignals(b)...)
	all = append(all, headerSignalsForAnalysis(h)...)
	return verdict.Assemble(all)
}

func sig(name string, weight int, detected bool, cat verdict.Category, detectedReason, notReason string) verdict.Signal {
	reason := notReason
	if detected {
		reason = detectedReason
	}
	return verdict.Signal{Name: name, Weight: weight, Detected: detected, Reason: reason, Category: cat}
}

func automationSignals(b Bundle) []verdict.Signal {
	ua := b.GetString("navigator.userAgent", "")
	noBrowserData := !b.Has("screen") && !b.Has("window") && !b.Has("navigator")
	jsChallengeFailed := !b.Has("jsChallenge") || !b.GetBool("jsChallenge.valid", false)

	return []verdict.Signal{
		sig("webdriver", 30, b.GetBool("navigator.webdriver", false), verdict.CategoryAutomation,
			"navigator.webdriver reports true", "navigator.webdriver reports false or absent"),
		sig("phantom", 30, b.GetBool("features.phantom", false), verdict.CategoryAutomation,
			"PhantomJS marker present", "no PhantomJS marker"),
		sig("nightmare", 30, b.GetBool("features.nightmare", false), verdict.CategoryAutomation,
			"Nightmare marker present", "no Nightmare marker"),
		sig("selenium", 30, b.GetBool("features.selenium", false), verdict.CategoryAutomation,
			"Selenium marker present", "no Selenium marker"),
		sig("domAutomation", 30, b.GetBool("features.domAutomation", false), verdict.CategoryAutomation,
			"domAutomation marker present", "no domAutomation marker"),
		sig("headlessUA", 25, strings.Contains(strings.ToLower(ua), "headless"), verdict.CategoryAutomation,
			"User-Agent contains \"headless\"", "User-Agent does not mention headless"),
		sig("noBrowserData", 50, noBrowserData, verdict.CategoryAutomation,
			"bundle lacks screen, window, and navigator entirely", "bundle carries at least one of screen/window/navigator"),
		sig("jsChallengeFailed", 35, jsChallengeFailed, verdict.CategoryAutomation,
			"JS challenge absent or not valid", "JS challenge present and valid"),
	}
}

func essentialDataSignals(b Bundle) []verdict.Signal {
	noBrowserData := !b.Has("screen") && !b.Has("window") && !b.Has("navigator")
	fire := func(detected bool) bool { return !noBrowserData && detected }

	return []verdict.Signal{
		sig("noScreenData", 25, fire(!b.Has("screen")), verdict.CategoryAutomation,
			"screen object absent", "screen object present"),
		sig("noWindowData", 20, fire(!b.Has("window")), verdict.CategoryAutomation,
			"window object absent", "window object present"),
		sig("noNavigatorData", 25, fire(!b.Has("navigator")), verdict.CategoryAutomation,
			"navigator object absent", "navigator object present"),
		sig("noTimezoneData", 15, fire(!b.Has("timezone")), verdict.CategoryAutomation,
			"timezone object absent", "timezone object present"),
	}
}

func browserFeatureSignals(b Bundle) []verdict.Signal {
	ua := b.GetString("navigator.userAgent", "")
	isChrome := headers.IsChromeUA(ua)
	cat := verdict.CategoryBrowserFeatures

	fontsLen := b.GetNumber("fonts.length", -1)
	fewFonts := fontsLen >= 1 && fontsLen <= 4

	mediaDevicesPresent := b.Has("mediaDevices")
	zeroMediaDevices := mediaDevicesPresent &&
		b.GetNumber("mediaDevices.audioinput", 0) == 0 &&
		b.GetNumber("mediaDevices.audiooutput", 0) == 0 &&
		b.GetNumber("mediaDevices.videoinput", 0) == 0 &&
		b.GetString("mediaDevices.error", "") == ""

	out := []verdict.Signal{
		sig("noPlugins", 15, b.GetNumber("plugins.length", -1) == 0, cat, "no browser plugins reported", "browser plugins reported"),
		sig("noLanguages", 15, len(b.GetStringSlice("navigator.languages")) == 0, cat,
			"navigator.languages empty or absent", "navigator.languages populated"),
		sig("missingChrome", 20, isChrome && !b.GetBool("features.windowChrome", false), cat,
			"Chrome UA but window.chrome absent", "window.chrome present or not a Chrome UA"),
		sig("noPermissionsAPI", 10, !b.GetBool("features.permissionsQuery", false), cat,
			"Permissions API unavailable", "Permissions API available"),
		sig("noNotifications", 5, !b.GetBool("features.notifications", false), cat,
			"Notifications API unavailable", "Notifications API available"),
		sig("noWebRTC", 8, !b.GetBool("features.webRTC", false), cat,
			"WebRTC unavailable", "WebRTC available"),
		sig("noIndexedDB", 8, !b.GetBool("features.indexedDB", false), cat,
			"IndexedDB unavailable", "IndexedDB available"),
		sig("noLocalStorage", 10, !b.GetBool("features.localStorage", false), cat,
			"localStorage unavailable", "localStorage available"),
		sig("noSessionStorage", 10, !b.GetBool("features.sessionStorage", false), cat,
			"sessionStorage unavailable", "sessionStorage available"),
		sig("noBattery", 2, !b.Has("battery") || b.GetString("battery.error", "") != "", cat,
			"Battery API unavailable or errored", "Battery API available"),
		sig("noMediaDevices", 5, !mediaDevicesPresent, cat,
			"mediaDevices unavailable", "mediaDevices available"),
		sig("zeroMediaDevices", 8, zeroMediaDevices, cat,
			"mediaDevices present but enumerates zero devices", "mediaDevices enumerates at least one device"),
		sig("noSpeechVoices", 3, b.GetNumber("speechVoices.count", 0) == 0, cat,
			"no speech synthesis voices reported", "speech synthesis voices reported"),
		sig("noConnectionAPI", 5, isChrome && !b.Has("connection"), cat,
			"Chrome UA but navigator.connection absent", "navigator.connection present or not a Chrome UA"),
		sig("noFonts", 10, fontsLen == 0, cat, "no fonts detected", "fonts detected"),
		sig("fewFonts", 5, fewFonts, cat, "very few fonts detected (1-4)", "font count outside the 1-4 suspicious range"),
		sig("noCanvasHash", 8, b.GetString("canvas.hash", "") == "" || b.GetString("canvas.error", "") != "", cat,
			"canvas fingerprint hash missing or errored", "canvas fingerprint hash present"),
		sig("audioError", 5, b.GetString("audio.error", "") != "", cat,
			"audio fingerprinting reported an error", "audio fingerprinting succeeded"),
		sig("noPerformanceMemory", 5, isChrome && !b.Has("performance.jsHeapSizeLimit"), cat,
			"Chrome UA but performance.memory unavailable", "performance.memory available or not a Chrome UA"),
		sig("documentHidden", 8, b.GetBool("document.hidden", false), cat,
			"document reported hidden during submission", "document was visible during submission"),
		sig("noGamepadAPI", 2, !b.GetBool("gamepads.supported", false), cat,
			"Gamepad API unavailable", "Gamepad API available"),
		sig("keyboardAPIError", 5, b.GetString("keyboard.error", "") != "", cat,
			"Keyboard API errored", "Keyboard API available"),
		sig("noServiceWorker", 3, !b.GetBool("features.serviceWorker", false), cat,
			"Service Worker unavailable", "Service Worker available"),
		sig("noWebAssembly", 5, !b.GetBool("features.WebAssembly", false), cat,
			"WebAssembly unavailable", "WebAssembly available"),
		sig("noBluetooth", 2, !b.GetBool("features.bluetooth", false), cat,
			"Web Bluetooth unavailable", "Web Bluetooth available"),
		sig("noUSB", 2, !b.GetBool("features.usb", false), cat,
			"WebUSB unavailable", "WebUSB available"),
		sig("noCredentials", 3, !b.GetBool("features.credentials", false), cat,
			"Credential Management API unavailable", "Credential Management API available"),
	}
	return out
}

func webglSignals(b Bundle) []verdict.Signal {
	ua := b.GetString("navigator.userAgent", "")
	cat := verdict.CategoryWebGL

	renderer := strings.ToLower(b.GetString("webgl.unmaskedRenderer", b.GetString("webgl.renderer", "")))
	softwareRenderer := strings.Contains(renderer, "swiftshader") || strings.Contains(renderer, "llvmpipe") || strings.Contains(renderer, "mesa")

	webglPresent := b.Has("webgl")
	webglNoErr := b.GetString("webgl.error", "") == ""
	noWebGLRenderer := webglPresent && webglNoErr && renderer == ""

	vendor := strings.ToLower(b.GetString("webgl.unmaskedVendor", b.GetString("webgl.vendor", "")))
	softwareVendor := strings.Contains(vendor, "brian paul") || strings.Contains(vendor, "mesa")

	noWebGLExtensions := webglPresent && b.Len("webgl.extensions") == 0

	return []verdict.Signal{
		sig("softwareRenderer", 20, softwareRenderer, cat,
			"WebGL renderer identifies a software rasterizer", "WebGL renderer does not identify a software rasterizer"),
		sig("noWebGLRenderer", 10, noWebGLRenderer, cat,
			"WebGL present without error but renderer string empty", "WebGL renderer string present or WebGL absent/errored"),
		sig("softwareVendor", 15, softwareVendor, cat,
			"WebGL vendor identifies a software implementation", "WebGL vendor does not identify a software implementation"),
		sig("noWebGLExtensions", 8, noWebGLExtensions, cat,
			"WebGL present but reports zero extensions", "WebGL reports at least one extension or is absent"),
		sig("noWebGL2", 3, headers.IsChromeUA(ua) && b.GetString("webgl2.error", "") != "", cat,
			"Chrome UA but WebGL2 context errored", "WebGL2 available or not a Chrome UA"),
	}
}

func screenSignals(b Bundle) []verdict.Signal {
	cat := verdict.CategoryScreen
	width := b.GetNumber("screen.width", -1)
	height := b.GetNumber("screen.height", -1)
	zeroScreen := width == 0 && height == 0
	defaultScreen := width == 800 && height == 600

	innerW := b.GetNumber("window.innerWidth", -1)
	innerH := b.GetNumber("window.innerHeight", -1)
	outerW := b.GetNumber("window.outerWidth", -2)
	outerH := b.GetNumber("window.outerHeight", -2)
	noWindowChrome := innerW == outerW && outerW > 0 && innerH == outerH

	dpr := b.GetNumber("screen.devicePixelRatio", 1)
	unusualDPR := dpr < 0.5 || dpr > 4

	colorDepth := b.GetNumber("screen.colorDepth", 24)
	lowColorDepth := colorDepth < 24

	return []verdict.Signal{
		sig("zeroScreenSize", 15, zeroScreen, cat, "screen dimensions are 0x0", "screen dimensions are non-zero"),
		sig("defaultScreenSize", 10, defaultScreen, cat,
			"screen dimensions are exactly the 800x600 default", "screen dimensions differ from the 800x600 default"),
		sig("noWindowChrome", 10, noWindowChrome, cat,
			"inner and outer window dimensions are identical (no browser chrome)", "window chrome occupies space between inner and outer dimensions"),
		sig("unusualDPR", 5, unusualDPR, cat,
			"devicePixelRatio outside the plausible 0.5-4 range", "devicePixelRatio within plausible range"),
		sig("lowColorDepth", 5, lowColorDepth, cat,
			"color depth below 24 bits", "color depth is 24 bits or greater"),
	}
}

func consistencySignals(b Bundle, h headers.HeaderGetter) []verdict.Signal {
	cat := verdict.CategoryConsistency
	headerUA := h.Get("User-Agent")
	navUA := b.GetString("navigator.userAgent", "")
	isMobile := headers.IsMobileUA(navUA)
	touchPoints := b.GetNumber("touch.maxTouchPoints", 0)

	mobileNoTouch := isMobile && touchPoints == 0
	desktopTouchMismatch := !isMobile && touchPoints > 0

	appName := b.GetString("navigator.appName", "")
	product := b.GetString("navigator.product", "")
	navigatorInconsistency := appName == "Netscape" && product != "Gecko"

	uaMismatch := headerUA != "" && navUA != "" && headerUA != navUA

	acceptLang := h.Get("Accept-Language")
	navLang := b.GetString("navigator.language", "")
	languageMismatch := acceptLang != "" && navLang != "" && primarySubtag(acceptLang) != primarySubtag(navLang)

	lowerUA := strings.ToLower(navUA)
	platform := strings.ToLower(b.GetString("navigator.platform", ""))
	platformMismatch := false
	switch {
	case strings.Contains(lowerUA, "windows"):
		platformMismatch = !strings.Contains(platform, "win")
	case strings.Contains(lowerUA, "mac"):
		platformMismatch = !strings.Contains(platform, "mac")
	case strings.Contains(lowerUA, "linux") && !isMobile:
		platformMismatch = !strings.Contains(platform, "linux")
	}

	uaDataPlatform := strings.ToLower(b.GetString("userAgentData.platform", ""))
	clientHintsMismatch := strings.Contains(platform, "win") && b.Has("userAgentData.platform") && !strings.Contains(uaDataPlatform, "win")

	tz := b.GetString("timezone.timezone", "")
	offset := b.GetNumber("timezone.offset", 0)
	timezoneInconsistent := (strings.HasPrefix(tz, "America/") && offset < 0) || (strings.HasPrefix(tz, "Europe/") && offset > 60)

	vendor := strings.ToLower(b.GetString("navigator.vendor", ""))
	vendorMismatch := false
	if headers.IsChromeUA(navUA) {
		vendorMismatch = !strings.Contains(vendor, "google")
	} else if headers.IsSafariUA(navUA) {
		vendorMismatch = !strings.Contains(vendor, "apple")
	}

	productInconsistent := product != "" && product != "Gecko"

	return []verdict.Signal{
		sig("mobileNoTouch", 15, mobileNoTouch, cat,
			"mobile User-Agent but maxTouchPoints is 0", "touch points consistent with mobile User-Agent"),
		sig("desktopTouchMismatch", 5, desktopTouchMismatch, cat,
			"desktop User-Agent but touch points reported", "touch points consistent with desktop User-Agent"),
		sig("navigatorInconsistency", 5, navigatorInconsistency, cat,
			"appName is Netscape but product is not Gecko", "appName/product combination is consistent"),
		sig("uaMismatch", 20, uaMismatch, cat,
			"header User-Agent differs from navigator.userAgent", "header User-Agent matches navigator.userAgent"),
		sig("languageMismatch", 10, languageMismatch, cat,
			"Accept-Language primary subtag differs from navigator.language", "Accept-Language and navigator.language primary subtags agree"),
		sig("platformMismatch", 15, platformMismatch, cat,
			"User-Agent names an OS that navigator.platform disagrees with", "navigator.platform consistent with User-Agent"),
		sig("timezoneInconsistent", 10, timezoneInconsistent, cat,
			"timezone name and UTC offset are mutually inconsistent", "timezone name and UTC offset are consistent"),
		sig("clientHintsMismatch", 15, clientHintsMismatch, cat,
			"navigator.platform names Windows but userAgentData.platform disagrees", "client hints platform consistent with navigator.platform"),
		sig("vendorMismatch", 10, vendorMismatch, cat,
			"browser vendor string inconsistent with User-Agent", "browser vendor string consistent with User-Agent"),
		sig("productInconsistent", 3, productInconsistent, cat,
			"navigator.product is not Gecko", "navigator.product is Gecko"),
	}
}

// primarySubtag returns the first '-'-delimited, lowercased subtag of a
// BCP-47-ish language tag, e.g. "en-US" -> "en". The Signal Evaluator
// compares only primary subtags.
func primarySubtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, ",;"); i >= 0 {
		tag = tag[:i]
	}
	if i := strings.Index(tag, "-"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func timingSignals(b Bundle) []verdict.Signal {
	cat := verdict.CategoryTiming
	challengeValid := b.GetBool("jsChallenge.valid", false)
	solveTime := b.GetNumber("jsChallenge.solveTime", 0)
	jsChallengeTimingSuspicious := challengeValid && solveTime > 30000

	navStart := b.GetNumber("performance.navigationStart", 0)
	loadEnd := b.GetNumber("performance.loadEventEnd", 0)
	loadTime := loadEnd - navStart
	negativeLoadTime := b.Has("performance.navigationStart") && b.Has("performance.loadEventEnd") && loadTime < 0
	zeroLoadTime := b.Has("performance.navigationStart") && b.Has("performance.loadEventEnd") && loadTime == 0

	return []verdict.Signal{
		sig("jsChallengeTimingSuspicious", 10, jsChallengeTimingSuspicious, cat,
			"JS challenge valid but solve time exceeded 30s", "JS challenge solve time within bounds"),
		sig("negativeLoadTime", 20, negativeLoadTime, cat,
			"page load time is negative", "page load time is non-negative"),
		sig("zeroLoadTime", 15, zeroLoadTime, cat,
			"page load time is exactly zero", "page load time is non-zero"),
	}
}

func fingerprintSignals(b Bundle) []verdict.Signal {
	acos := b.GetNumber("math.acos", mathAcosReference)
	mathInconsistent := math.Abs(acos-mathAcosReference) > 1e-7

	return []verdict.Signal{
		sig("mathInconsistent", 10, mathInconsistent, verdict.CategoryFingerprint,
			"Math.acos(0.5) does not match the expected IEEE-754 value", "Math.acos(0.5) matches the expected IEEE-754 value"),
	}
}

// headerSignalsForAnalysis re-evaluates the request headers with the
// Signal Evaluator's own weight table: the Header Evaluator's weights
// apply outside /api/bot, the Signal Evaluator's weights apply on
// /api/bot.
func headerSignalsForAnalysis(h headers.HeaderGetter) []verdict.Signal {
	cat := verdict.CategoryHeaders
	ua := h.Get("User-Agent")
	isChrome := headers.IsChromeUA(ua)

	botMatch := headers.MatchBotPattern(ua)
	noSecFetch := h.Get("Sec-Fetch-Dest") == "" && h.Get("Sec-Fetch-Mode") == "" && h.Get("Sec-Fetch-Site") == ""

	return []verdict.Signal{
		sig("noAcceptLanguage", 10, h.Get("Accept-Language") == "", cat,
			"Accept-Language header absent", "Accept-Language header present"),
		sig("noAcceptHeader", 5, h.Get("Accept") == "", cat,
			"Accept header absent", "Accept header present"),
		sig("botUserAgent", 25, botMatch != "", cat,
			"User-Agent matches known bot pattern", "User-Agent does not match any known bot pattern"),
		sig("shortUserAgent", 15, ua != "" && len(ua) < 20, cat,
			"User-Agent suspiciously short", "User-Agent length within normal range"),
		sig("noSecFetch", 8, noSecFetch, cat,
			"all Sec-Fetch-* headers absent", "at least one Sec-Fetch-* header present"),
		sig("noSecChUa", 8, isChrome && h.Get("Sec-CH-UA") == "", cat,
			"Chrome UA but Sec-CH-UA header absent", "Sec-CH-UA present or not a Chrome UA"),
		sig("noConnectionHeader", 3, h.Get("Connection") == "", cat,
			"Connection header absent", "Connection header present"),
		sig("noCacheControl", 2, h.Get("Cache-Control") == "", cat,
			"Cache-Control header absent", "Cache-Control header present"),
	}
}
