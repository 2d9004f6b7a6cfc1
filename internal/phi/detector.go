// Package phi detects and masks protected health information in free
// text before it can reach an LLM or be written to audit storage.
//
// Detection covers Taiwan, Japan and US identifier formats plus
// universal email/credit-card heuristics. All patterns are heuristics:
// the gate is blacklist-only and can both over- and under-match.
package phi

import "regexp"

var (
	// Taiwan
	taiwanID    = regexp.MustCompile(`(?i)\b[A-Z][12]\d{8}\b`)
	taiwanPhone = regexp.MustCompile(`\b09\d{8}\b`)

	// Japan
	japanMyNumber = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	japanPhone    = regexp.MustCompile(`\b0[789]0[-\s]?\d{4}[-\s]?\d{4}\b`)

	// USA
	usSSN = regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`)
	usMRN = regexp.MustCompile(`(?i)\bMRN[-:\s]?\d{6,10}\b`)

	// Universal
	email      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	creditCard = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)

	// Personal-address heuristic: digits mixed with a name-like run, or
	// a common first name. Institutional addresses pass.
	personalEmail = regexp.MustCompile(`(?i)\d+[a-z]+|\b(john|mary|patient)\d*\b`)

	// Year-like substring used to suppress date false positives in
	// credit-card matches (e.g. 2024-01-01-1234).
	yearLike = regexp.MustCompile(`20\d{2}`)

	// Common medical record number shapes, applied only by Sanitize.
	medicalRecord = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{2,3}\d{6,10}\b`),
		regexp.MustCompile(`\b\d{8,12}\b`),
	}
)

// DefaultMask is the replacement token used by SanitizeForLog.
const DefaultMask = "***"

// Detect scans text for PHI and returns the category label of the
// first matching pattern. Patterns are evaluated in a fixed priority
// order: national ID formats are checked before generic numeric ones so
// the more specific diagnosis wins. The matched text itself is never
// returned.
func Detect(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	// Taiwan
	if taiwanID.MatchString(text) {
		return "Taiwan ID (台灣身分證)", true
	}
	if taiwanPhone.MatchString(text) {
		return "Taiwan Phone (台灣手機號碼)", true
	}

	// Japan
	if japanMyNumber.MatchString(text) {
		return "Japan My Number (日本個人番號)", true
	}
	if japanPhone.MatchString(text) {
		return "Japan Phone (日本手機號碼)", true
	}

	// USA
	if usSSN.MatchString(text) {
		return "US SSN (美國社會安全號碼)", true
	}
	if usMRN.MatchString(text) {
		return "US MRN (美國病歷號)", true
	}

	// Universal
	if m := email.FindString(text); m != "" && personalEmail.MatchString(m) {
		return "Email (個人電子郵件)", true
	}
	if m := creditCard.FindString(text); m != "" && !yearLike.MatchString(m) {
		return "Credit Card (信用卡號)", true
	}

	return "", false
}

// IsSafe reports whether text contains no detectable PHI.
func IsSafe(text string) bool {
	_, found := Detect(text)
	return !found
}

// Sanitize replaces every occurrence of every pattern with mask,
// producing text safe for audit storage. Unlike Detect it is
// exhaustive: all patterns are applied, not just the first match.
func Sanitize(text, mask string) string {
	if text == "" {
		return text
	}

	for _, p := range []*regexp.Regexp{
		taiwanID, taiwanPhone,
		japanMyNumber, japanPhone,
		usSSN, usMRN,
		email, creditCard,
	} {
		text = p.ReplaceAllString(text, mask)
	}
	for _, p := range medicalRecord {
		text = p.ReplaceAllString(text, mask)
	}
	return text
}

// SanitizeForLog masks text with the default token.
func SanitizeForLog(text string) string {
	return Sanitize(text, DefaultMask)
}
