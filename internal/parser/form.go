package parser

import (
	"regexp"
	"strings"
)

var formLineRE = regexp.MustCompile(`^\s*([\p{L}][\p{L} ./\-]{0,39}?)\s*:\s*(\S.*)$`)

// formLabels maps a label pattern to the field it fills. First match wins.
var formLabels = []struct {
	field string
	re    *regexp.Regexp
}{
	{FieldEmail, regexp.MustCompile(`(?i)^(e-?mail|mail|e-?mail-?adresse|email address)$`)},
	{FieldPhone, regexp.MustCompile(`(?i)^(telefon(nummer)?|tel\.?|phone( number)?|handy|mobil(nummer)?|mobile)$`)},
	{FieldAddress, regexp.MustCompile(`(?i)^(adresse|anschrift|address|lieferadresse|postanschrift|stra(ß|ss)e)$`)},
	{FieldInstrumentType, regexp.MustCompile(`(?i)^(instrument(en)?(typ|art| type)?|typ|type|art|produkt|product)$`)},
	{FieldModel, regexp.MustCompile(`(?i)^(modell|model|form|shape|korpusform|body shape)$`)},
	{FieldColor, regexp.MustCompile(`(?i)^(farbe|color|colour|finish|lackierung|oberfläche)$`)},
	{FieldQuantity, regexp.MustCompile(`(?i)^(anzahl|menge|stückzahl|stück|quantity|qty)$`)},
	{FieldOrderNumber, regexp.MustCompile(`(?i)^(auftragsnummer|auftrags-nr\.?|bestellnummer|bestell-nr\.?|order( number| no\.?| #)?)$`)},
	{FieldName, regexp.MustCompile(`(?i)^((vor- und )?nach)?name$|^(vollständiger name|full name|kunde|customer|ansprechpartner)$`)},
}

// formLine splits a "Label: value" line. URLs like https://... are not labels.
func formLine(line string) (label, value string, ok bool) {
	m := formLineRE.FindStringSubmatch(line)
	if m == nil || strings.HasPrefix(m[2], "//") {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

func countFormLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if _, _, ok := formLine(line); ok {
			n++
		}
	}
	return n
}

func parseForm(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := formLine(line)
		if !ok {
			continue
		}
		for _, l := range formLabels {
			if !l.re.MatchString(label) {
				continue
			}
			if _, taken := fields[l.field]; !taken {
				fields[l.field] = value
			}
			break
		}
	}

	if v, ok := fields[FieldInstrumentType]; ok {
		fields[FieldInstrumentType] = detectInstrument(v)
	}
	if v, ok := fields[FieldOrderNumber]; ok {
		fields[FieldOrderNumber] = strings.ToUpper(v)
	}
	return fields
}
