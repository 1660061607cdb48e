package merchant

import (
	"regexp"
	"strings"
)

// Statement noise that carries no merchant identity: card-scheme and
// payment-type codes the feed prepends or appends.
var noiseTokens = map[string]struct{}{
	"pos": {}, "dd": {}, "so": {}, "bgc": {}, "chq": {}, "ft": {},
	"vis": {}, "deb": {}, "crd": {}, "bbp": {}, "fpo": {}, "fpi": {},
	"contactless": {}, "card": {}, "payment": {}, "purchase": {},
	"ref": {}, "reference": {},
}

// aliasPrefixes maps known statement prefixes onto stable brand names.
// An empty brand keeps the remainder of the string (acquirer prefixes such
// as PAYPAL * and SQ * wrap the real merchant). Order matters: first hit
// wins, longest variants first.
var aliasPrefixes = []struct {
	prefix string
	brand  string
}{
	{"amzn mktp", "amazon"},
	{"amzn digital", "amazon"},
	{"amznmktp", "amazon"},
	{"amzn", "amazon"},
	{"amazon prime", "amazon"},
	{"www.amazon", "amazon"},
	{"uber *eats", "uber eats"},
	{"uber* eats", "uber eats"},
	{"uber *trip", "uber"},
	{"apple.com/bill", "apple"},
	{"paypal *", ""},
	{"pp*", ""},
	{"sq *", ""},
	{"sumup *", ""},
	{"zettle *", ""},
	{"izettle *", ""},
	{"crv*", ""},
	{"google *", ""},
}

var (
	punctRe = regexp.MustCompile(`[*_/\\.,:;#()+'"&]+`)
	// short statement dates like 23AUG or 23AUG19
	dateRe = regexp.MustCompile(`^\d{1,2}[a-z]{3}\d{0,4}$`)
	// reference-looking tokens: long alphanumerics dominated by digits
	refRe = regexp.MustCompile(`^[a-z0-9]{6,}$`)
)

// Normalize reduces a raw statement or receipt merchant string to its
// canonical lowercase form. Deterministic; no side effects.
func Normalize(raw string) string {
	return strings.Join(Tokens(raw), " ")
}

// Tokens returns the canonical merchant tokens of a raw merchant string.
func Tokens(raw string) []string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	for _, alias := range aliasPrefixes {
		if !strings.HasPrefix(s, alias.prefix) {
			continue
		}
		if alias.brand != "" {
			return strings.Fields(alias.brand)
		}
		s = strings.TrimSpace(s[len(alias.prefix):])
		break
	}

	s = punctRe.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if _, noisy := noiseTokens[tok]; noisy {
			continue
		}
		if isAllDigits(tok) {
			continue
		}
		if dateRe.MatchString(tok) {
			continue
		}
		if refRe.MatchString(tok) && digitCount(tok) >= 3 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
