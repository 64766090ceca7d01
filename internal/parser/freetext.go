package parser

import (
	"regexp"
	"strings"
)

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// International numbers start with + or 00, local ones with a single 0 area prefix.
	intlPhoneRE  = regexp.MustCompile(`(?:\+|\b00)\d{1,3}[ /\-]?(?:\(0\)[ ]?)?\d{2,5}(?:[ /\-]?\d{2,}){1,4}`)
	localPhoneRE = regexp.MustCompile(`\b0\d{2,5}(?:[ /\-]?\d{2,}){1,4}`)

	streetRE = regexp.MustCompile(`((?:\p{Lu}[\p{L}\-]* )?\p{Lu}?[\p{L}\-]*(?i:straße|strasse|str\.|weg|gasse|platz|allee|ring|damm|ufer|street|road|avenue|lane)\s+\d{1,4}\s?[a-zA-Z]?)\b(?:\s*,?\s*(\d{4,5})\s+(\p{Lu}[\p{L}\-]+(?:\s\p{Lu}[\p{L}\-]+)?))?`)

	orderNumberRE = regexp.MustCompile(`\bORD-\d{4}-\d{3,6}\b`)

	quantityAfterRE  = regexp.MustCompile(`(?i)\b(?:anzahl|menge|stückzahl|quantity|qty)\s*[:=]?\s*(\d{1,4})\b`)
	quantityBeforeRE = regexp.MustCompile(`(?i)\b(\d{1,4})\s*(?:x\b|stück|stk\b|pcs\b|pieces\b|exemplare)`)

	modelRE = regexp.MustCompile(`(?i)\b(?:modell|model)\s*[:=]\s*([^\n,;]{2,60})`)
	colorRE = regexp.MustCompile(`(?i)\b(?:farbe|colou?r|finish|lackierung)\s*[:=]\s*([^\n,;]{2,40})`)
)

// instrumentKeywords is checked in order, so specific parts win over the generic instrument words.
var instrumentKeywords = []struct {
	instrument string
	re         *regexp.Regexp
}{
	{"pickguard", regexp.MustCompile(`(?i)\bpick-?guards?\b|\bschlagbrett`)},
	{"pickup", regexp.MustCompile(`(?i)\bpick-?ups?\b|\btonabnehmer`)},
	{"neck", regexp.MustCompile(`(?i)\bhals|\bhälse|gitarrenhals|\bnecks?\b`)},
	{"body", regexp.MustCompile(`(?i)\bkorpus|\bbody\b|\bbodies\b`)},
	{"laser", regexp.MustCompile(`(?i)\bgravur|\bgravier|\blaser|\bengrav`)},
	{"repair", regexp.MustCompile(`(?i)\breparatur|\brepar|\brepair`)},
	{"bass", regexp.MustCompile(`(?i)\bbass\b|\bbässe\b|\bbassgitarre`)},
	{"guitar", regexp.MustCompile(`(?i)gitarre|\bguitars?\b`)},
}

func detectInstrument(text string) string {
	for _, k := range instrumentKeywords {
		if k.re.MatchString(text) {
			return k.instrument
		}
	}
	return ""
}

func parseFreeText(text string) map[string]string {
	fields := make(map[string]string)

	if m := emailRE.FindString(text); m != "" {
		fields[FieldEmail] = m
	}

	if phone := firstPhone(text); phone != "" {
		fields[FieldPhone] = phone
	}

	if m := streetRE.FindStringSubmatch(text); m != nil {
		address := strings.TrimSpace(m[1])
		if m[2] != "" {
			address += ", " + m[2] + " " + m[3]
		}
		fields[FieldAddress] = address
	}

	if m := orderNumberRE.FindString(text); m != "" {
		fields[FieldOrderNumber] = m
	}

	if instrument := detectInstrument(text); instrument != "" {
		fields[FieldInstrumentType] = instrument
	}

	if m := quantityAfterRE.FindStringSubmatch(text); m != nil {
		fields[FieldQuantity] = m[1]
	} else if m := quantityBeforeRE.FindStringSubmatch(text); m != nil {
		fields[FieldQuantity] = m[1]
	}

	if m := modelRE.FindStringSubmatch(text); m != nil {
		fields[FieldModel] = trimValue(m[1])
	}
	if m := colorRE.FindStringSubmatch(text); m != nil {
		fields[FieldColor] = trimValue(m[1])
	}

	return fields
}

// firstPhone prefers international numbers and skips candidates like postal codes.
func firstPhone(text string) string {
	for _, re := range []*regexp.Regexp{intlPhoneRE, localPhoneRE} {
		for _, m := range re.FindAllString(text, -1) {
			if m = strings.TrimSpace(m); validPhone(m) {
				return m
			}
		}
	}
	return ""
}

func trimValue(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), ".!? ")
}
