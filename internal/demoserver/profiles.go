package demoserver

// TestResult mirrors one entry of an Observatory getScanResults document.
type TestResult struct {
	Pass             bool   `json:"pass"`
	Result           string `json:"result"`
	ScoreModifier    int    `json:"score_modifier"`
	ScoreDescription string `json:"score_description"`
}

// Profile is the posture a host reports at one version.
type Profile struct {
	Grade               string
	LikelihoodIndicator string
	Score               int
	Tests               map[string]TestResult
}

func (p Profile) passed() int {
	n := 0
	for _, t := range p.Tests {
		if t.Pass {
			n++
		}
	}
	return n
}

// Profiles are indexed by version, starting at 1. Each version hardens the
// site a little more so consecutive scans produce a visible diff.
var Profiles = map[int]Profile{
	1: {
		Grade:               "F",
		LikelihoodIndicator: "HIGH",
		Score:               0,
		Tests: map[string]TestResult{
			"content-security-policy":   {false, "csp-not-implemented", -25, "Content Security Policy (CSP) header not implemented"},
			"cookies":                   {false, "cookies-without-secure-flag", -20, "Cookies set without using the Secure flag"},
			"strict-transport-security": {false, "hsts-not-implemented", -20, "HTTP Strict Transport Security (HSTS) header not implemented"},
			"x-content-type-options":    {false, "x-content-type-options-not-implemented", -5, "X-Content-Type-Options header not implemented"},
			"x-frame-options":           {false, "x-frame-options-not-implemented", -20, "X-Frame-Options (XFO) header not implemented"},
			"redirection":               {true, "redirection-to-https", 0, "Initial redirection is to HTTPS on same host"},
		},
	},
	2: {
		Grade:               "C",
		LikelihoodIndicator: "MEDIUM",
		Score:               50,
		Tests: map[string]TestResult{
			"content-security-policy":   {false, "csp-implemented-with-unsafe-inline", -20, "Content Security Policy (CSP) implemented unsafely"},
			"cookies":                   {true, "cookies-secure-with-httponly-sessions", 0, "All cookies use the Secure flag"},
			"strict-transport-security": {true, "hsts-implemented-max-age-at-least-six-months", 0, "HSTS header set to a minimum of six months"},
			"x-content-type-options":    {true, "x-content-type-options-nosniff", 0, "X-Content-Type-Options header set to nosniff"},
			"x-frame-options":           {false, "x-frame-options-not-implemented", -20, "X-Frame-Options (XFO) header not implemented"},
			"redirection":               {true, "redirection-to-https", 0, "Initial redirection is to HTTPS on same host"},
		},
	},
	3: {
		Grade:               "A+",
		LikelihoodIndicator: "LOW",
		Score:               105,
		Tests: map[string]TestResult{
			"content-security-policy":   {true, "csp-implemented-with-no-unsafe", 5, "Content Security Policy (CSP) implemented without unsafe sources"},
			"cookies":                   {true, "cookies-secure-with-httponly-sessions-and-samesite", 5, "All cookies use the Secure flag and SameSite"},
			"strict-transport-security": {true, "hsts-preloaded", 5, "Preloaded via the HTTP Strict Transport Security (HSTS) preloading process"},
			"x-content-type-options":    {true, "x-content-type-options-nosniff", 0, "X-Content-Type-Options header set to nosniff"},
			"x-frame-options":           {true, "x-frame-options-implemented-via-csp", 5, "X-Frame-Options (XFO) implemented via the CSP frame-ancestors directive"},
			"redirection":               {true, "redirection-to-https", 0, "Initial redirection is to HTTPS on same host"},
		},
	},
}

func maxVersion() int {
	m := 1
	for v := range Profiles {
		if v > m {
			m = v
		}
	}
	return m
}

func profileFor(version int) Profile {
	for v := version; v >= 1; v-- {
		if p, ok := Profiles[v]; ok {
			return p
		}
	}
	return Profiles[1]
}
