package headers

import "strings"

// IsMobileUA reports whether the UA string identifies a mobile device.
func IsMobileUA(ua string) bool {
	lower := strings.ToLower(ua)
	for _, tok := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// IsChromeUA reports whether the UA names the Chrome browser (and is not
// actually Edge, which also carries "Chrome/" in its UA string).
func IsChromeUA(ua string) bool {
	lower := strings.ToLower(ua)
	return strings.Contains(lower, "chrome") && !strings.Contains(lower, "edg")
}

// IsSafariUA reports whether the UA names Safari (and is not Chrome, which
// also carries "Safari/" in its UA string).
func IsSafariUA(ua string) bool {
	lower := strings.ToLower(ua)
	return strings.Contains(lower, "safari") && !strings.Contains(lower, "chrome")
}
