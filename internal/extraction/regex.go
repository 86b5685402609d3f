package extraction

import (
	"regexp"
	"strings"
	"unicode"
)

type idPattern struct {
	re *regexp.Regexp
	// normalize turns the captured group into an identifier; "" rejects the match.
	normalize func(string) string
	// compact matches line by line with spaces removed
	compact bool
}

func stripSpace(s string, keepNewlines bool) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' && keepNewlines {
			return r
		}
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func phn(s string) string {
	s = stripSpace(s, false)
	if len(s) != 10 {
		return ""
	}
	return s
}

func upperWithDigit(s string) string {
	s = strings.ToUpper(strings.Trim(s, "<"))
	if !strings.ContainsAny(s, "0123456789") {
		return ""
	}
	return s
}

func pattern(expr string, normalize func(string) string) idPattern {
	if normalize == nil {
		normalize = strings.TrimSpace
	}
	return idPattern{re: regexp.MustCompile(expr), normalize: normalize}
}

var (
	licencePatterns = []idPattern{
		pattern(`(?i)\bNDL[:\s#]*(\d{7,9})\b`, nil),
		pattern(`(?i)\bLDL[:\s#]*(\d{7,9})\b`, nil),
		pattern(`(?i)\bDL[:\s#]*(\d{7,9})\b`, nil),
		pattern(`(?i)\bDLN[:\s#]*(\d{7,9})\b`, nil),
		pattern(`(?i)\bLICEN[CS]E\s*(?:NO\.?|NUMBER|#)?[:\s]*(\d{7,9})\b`, nil),
	}

	healthPatterns = []idPattern{
		pattern(`(?i)PERSONAL\s*HEALTH\s*(?:NUMBER|NO\.?|#)?[:\s]*(\d[\d\s]{8,11}\d)`, phn),
		pattern(`(?i)\bPHN[:\s#]*(\d[\d\s]{8,11}\d)`, phn),
		pattern(`(?i)\bHEALTH\s*(?:NUMBER|NO\.?|#)?[:\s]*(\d{10})\b`, phn),
	}

	passportPatterns = []idPattern{
		pattern(`(?i)\bPASSPORT\s*(?:NO\.?|NUMBER|#)?[:\s]*([A-Z]{1,2}\d{6,8})\b`, strings.ToUpper),
		pattern(`(?i)\bPASSPORT\s*(?:NO\.?|NUMBER|#)?[:\s]*(\d{9})\b`, nil),
		// second line of a TD3 machine-readable zone: number, check digit,
		// nationality, birth date, check digit, sex
		{
			re:        regexp.MustCompile(`([A-Z0-9<]{9})\d[A-Z<]{3}\d{6}\d[MFX<]`),
			normalize: upperWithDigit,
			compact:   true,
		},
	}

	bcidPatterns = []idPattern{
		pattern(`(?i)\bBCID[:\s#]*(\d{7,9})\b`, nil),
	}

	genericPatterns = []idPattern{
		pattern(`(?i)\b(?:ID|CARD)\b\s*(?:NO\.?|NUMBER|#)?[:\s]*([A-Z0-9]{6,12})\b`, upperWithDigit),
		pattern(`(?i)(?:\bNO\b\.?|\bNUMBER\b|#)[:\s]*([A-Z0-9]{7,12})\b`, upperWithDigit),
	}
)

// patternsFor lists the type-specific patterns for t, in matching order.
// Unknown documents try every family.
func patternsFor(t DocumentType) []idPattern {
	var out []idPattern
	if t == DocumentTypeDriversLicense || !t.Known() {
		out = append(out, licencePatterns...)
	}
	if t == DocumentTypeBCServices || t == DocumentTypeHealthCard || !t.Known() {
		out = append(out, healthPatterns...)
	}
	if t == DocumentTypePassport || !t.Known() {
		out = append(out, passportPatterns...)
	}
	if t == DocumentTypeBCID || !t.Known() {
		out = append(out, bcidPatterns...)
	}
	return out
}

// MatchDocumentID searches recognized text for an identifier using the
// patterns for t followed by the generic labelled patterns. It returns "" when
// nothing matches.
func MatchDocumentID(text string, t DocumentType) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	flat := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	compact := stripSpace(text, true)

	for _, pat := range append(patternsFor(t), genericPatterns...) {
		subject := flat
		if pat.compact {
			subject = compact
		}
		for _, m := range pat.re.FindAllStringSubmatch(subject, -1) {
			if id := pat.normalize(m[1]); id != "" {
				return id
			}
		}
	}
	return ""
}
