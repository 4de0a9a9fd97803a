package ratelimit

import (
	"net/http"
	"strings"
)

// Additive score weights for header-shape heuristics. Each check only ever
// adds, so the score is monotone in the number of missing or mismatched
// headers.
const (
	scoreSecFetchSiteMissing  = 50
	scoreSecFetchSiteCross    = 40
	scoreSecFetchModeMissing  = 30
	scoreOriginMissing        = 60
	scoreOriginMismatch       = 50
	scoreRefererMissing       = 40
	scoreRefererMismatch      = 30
	scoreUserAgentMissing     = 80
	scoreUserAgentAutomation  = 120
	scoreAcceptLangMissing    = 40
	scoreAcceptEncMissing     = 40
	scoreContentTypeUnexpected = 50
)

// automationSignatures are lowercase substrings of User-Agent values known
// to belong to tooling and headless browsers rather than people.
var automationSignatures = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"okhttp",
	"java/",
	"libwww",
	"headlesschrome",
	"phantomjs",
	"puppeteer",
	"playwright",
	"selenium",
	"scrapy",
	"httpclient",
	"bot",
	"spider",
	"crawler",
}

// Scorer estimates whether an anonymous request comes from an automated
// client, from request header shape alone.
type Scorer struct {
	threshold      int
	allowedOrigins []string
}

// NewScorer constructs a scorer. Threshold values at or below zero fall
// back to 200.
func NewScorer(threshold int, allowedOrigins []string) *Scorer {
	if threshold <= 0 {
		threshold = 200
	}
	return &Scorer{threshold: threshold, allowedOrigins: allowedOrigins}
}

// Score computes the additive suspicion score for a request hitting a JSON
// auth endpoint.
func (s *Scorer) Score(r *http.Request) int {
	score := 0

	switch site := strings.ToLower(r.Header.Get("Sec-Fetch-Site")); site {
	case "":
		score += scoreSecFetchSiteMissing
	case "same-origin", "same-site":
	default:
		score += scoreSecFetchSiteCross
	}
	if r.Header.Get("Sec-Fetch-Mode") == "" {
		score += scoreSecFetchModeMissing
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		score += scoreOriginMissing
	} else if !s.originAllowed(origin) {
		score += scoreOriginMismatch
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		score += scoreRefererMissing
	} else if !s.refererAllowed(referer) {
		score += scoreRefererMismatch
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if ua == "" {
		score += scoreUserAgentMissing
	} else {
		for _, sig := range automationSignatures {
			if strings.Contains(ua, sig) {
				score += scoreUserAgentAutomation
				break
			}
		}
	}

	if r.Header.Get("Accept-Language") == "" {
		score += scoreAcceptLangMissing
	}
	if r.Header.Get("Accept-Encoding") == "" {
		score += scoreAcceptEncMissing
	}

	ct := r.Header.Get("Content-Type")
	if r.Method == http.MethodPost && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		score += scoreContentTypeUnexpected
	}

	return score
}

// IsLikelyBot reports whether a score crosses the bot threshold.
func (s *Scorer) IsLikelyBot(score int) bool {
	return score >= s.threshold
}

func (s *Scorer) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		// No configured origin list: presence alone is the signal.
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Scorer) refererAllowed(referer string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	lower := strings.ToLower(referer)
	for _, allowed := range s.allowedOrigins {
		if strings.HasPrefix(lower, strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}
