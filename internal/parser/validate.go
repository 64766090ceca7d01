package parser

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const maxQuantity = 1000

var (
	orderNumberStrictRE = regexp.MustCompile(`^ORD-\d{4}-\d{3,6}$`)
	leadingIntRE        = regexp.MustCompile(`^\s*(\d{1,4})\b`)
)

var knownInstruments = map[string]bool{
	"guitar":    true,
	"bass":      true,
	"neck":      true,
	"body":      true,
	"pickup":    true,
	"pickguard": true,
	"laser":     true,
	"repair":    true,
}

// validate turns raw extracted strings into a Result, dropping every field that fails its check.
func validate(raw map[string]string) Result {
	var r Result

	if v := cleanText(raw[FieldName], 100); v != "" && hasLetter(v) {
		r.Name = v
	}
	if v := strings.TrimSpace(raw[FieldEmail]); v != "" {
		if addr, err := mail.ParseAddress(v); err == nil && emailRE.MatchString(addr.Address) {
			r.Email = strings.ToLower(addr.Address)
		}
	}
	if v := strings.TrimSpace(raw[FieldPhone]); validPhone(v) {
		r.Phone = v
	}
	if v := cleanText(raw[FieldAddress], 200); v != "" && hasLetter(v) && hasDigit(v) {
		r.Address = v
	}
	if v := raw[FieldInstrumentType]; knownInstruments[v] {
		r.InstrumentType = v
	}
	if v := cleanText(raw[FieldModel], 60); v != "" && hasLetter(v) {
		r.Model = v
	}
	if v := cleanText(raw[FieldColor], 40); v != "" && hasLetter(v) {
		r.Color = v
	}
	if m := leadingIntRE.FindStringSubmatch(raw[FieldQuantity]); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n <= maxQuantity {
			r.Quantity = n
		}
	}
	if v := strings.TrimSpace(raw[FieldOrderNumber]); orderNumberStrictRE.MatchString(v) {
		r.OrderNumber = v
	}

	return r
}

func validPhone(v string) bool {
	if v == "" {
		return false
	}
	digits := 0
	for _, c := range v {
		switch {
		case unicode.IsDigit(c):
			digits++
		case strings.ContainsRune("+ /-()", c):
		default:
			return false
		}
	}
	return digits >= 6 && digits <= 15
}

func cleanText(v string, max int) string {
	v = strings.Join(strings.Fields(v), " ")
	if v == "" || len([]rune(v)) > max {
		return ""
	}
	return v
}

func hasLetter(v string) bool {
	return strings.IndexFunc(v, unicode.IsLetter) >= 0
}

func hasDigit(v string) bool {
	return strings.IndexFunc(v, unicode.IsDigit) >= 0
}
