// Package suggest turns parsed mail fields into datasheet field suggestions for an order type.
package suggest

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/parser"
)

// Datasheet field keys.
const (
	FieldGuitarModel    = "guitar_model"
	FieldBodyShape      = "body_shape"
	FieldBodyColor      = "body_color"
	FieldFinishColor    = "finish_color"
	FieldPickguardColor = "pickguard_color"
	FieldPickupModel    = "pickup_model"
	FieldInstrumentType = "instrument_type"
	FieldCustomerNotes  = "customer_notes"
)

const (
	confidenceKnown   = 0.9
	confidenceDefault = 0.7
)

// aliases maps parser field names to the datasheet fields they can fill.
var aliases = map[string][]string{
	parser.FieldColor:          {FieldFinishColor, FieldBodyColor, FieldPickguardColor},
	parser.FieldModel:          {FieldGuitarModel, FieldBodyShape, FieldPickupModel},
	parser.FieldInstrumentType: {FieldInstrumentType},
	parser.FieldNotes:          {FieldCustomerNotes},
}

// presets lists the datasheet fields each order type has.
var presets = map[string][]string{
	models.OrderTypeGuitar:     {FieldGuitarModel, FieldBodyShape, FieldFinishColor, FieldPickguardColor, FieldPickupModel, FieldInstrumentType, FieldCustomerNotes},
	models.OrderTypeBody:       {FieldBodyShape, FieldBodyColor, FieldFinishColor, FieldCustomerNotes},
	models.OrderTypeNeck:       {FieldGuitarModel, FieldInstrumentType, FieldFinishColor, FieldCustomerNotes},
	models.OrderTypeRepair:     {FieldGuitarModel, FieldInstrumentType, FieldCustomerNotes},
	models.OrderTypePickguard:  {FieldGuitarModel, FieldBodyShape, FieldPickguardColor, FieldCustomerNotes},
	models.OrderTypePickups:    {FieldGuitarModel, FieldPickupModel, FieldCustomerNotes},
	models.OrderTypeEngraving:  {FieldCustomerNotes},
	models.OrderTypeFinishOnly: {FieldGuitarModel, FieldBodyShape, FieldFinishColor, FieldCustomerNotes},
}

var finishes = []string{
	"3 tone sunburst", "2 tone sunburst", "sunburst", "tobacco burst", "cherry burst", "olympic white",
	"vintage white", "arctic white", "fiesta red", "candy apple red", "dakota red", "sonic blue",
	"lake placid blue", "daphne blue", "surf green", "seafoam green", "sherwood green", "shell pink",
	"butterscotch blonde", "blonde", "black", "natural", "natur", "cherry", "walnut", "gold top",
}

var bodyShapes = []string{
	"stratocaster", "strat", "superstrat", "telecaster", "tele", "jazzmaster", "jaguar", "mustang",
	"les paul", "sg", "explorer", "flying v", "firebird", "offset", "double cut", "single cut",
}

// Source identifies the mail a suggestion was taken from.
type Source struct {
	MailID  string
	Subject string
	Date    time.Time
}

// Label renders the source as "Subject (2025-03-14)".
func (s Source) Label() string {
	subject := strings.TrimSpace(s.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	return fmt.Sprintf("%s (%s)", subject, s.Date.Format(time.DateOnly))
}

// Suggestion proposes one datasheet value.
type Suggestion struct {
	Field        string  `json:"field"`
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	SourceMailID string  `json:"sourceMailId"`
	SourceLabel  string  `json:"sourceLabel"`
}

type Builder struct {
	presets    map[string][]string
	vocabulary []*regexp.Regexp
}

func NewBuilder() *Builder {
	b := &Builder{presets: presets}
	for _, word := range slices.Concat(finishes, bodyShapes) {
		b.vocabulary = append(b.vocabulary, vocabularyPattern(word))
	}
	return b
}

// vocabularyPattern matches word case-insensitively with any run of spaces, dashes or
// underscores between its parts.
func vocabularyPattern(word string) *regexp.Regexp {
	parts := strings.Fields(word)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(parts, `[\s\-_]*`) + `\b`)
}

// Build returns suggestions for the fields the order type's datasheet has, sorted by field.
// Unknown order types get no suggestions.
func (b *Builder) Build(orderType string, fields map[string]string, src Source) []Suggestion {
	preset := b.presets[orderType]
	if len(preset) == 0 {
		return nil
	}

	label := src.Label()
	var out []Suggestion
	for key, value := range fields {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		for _, field := range aliases[key] {
			if !slices.Contains(preset, field) {
				continue
			}
			out = append(out, Suggestion{
				Field:        field,
				Value:        value,
				Confidence:   b.confidence(value),
				SourceMailID: src.MailID,
				SourceLabel:  label,
			})
		}
	}

	slices.SortFunc(out, func(a, b Suggestion) int {
		return strings.Compare(a.Field, b.Field)
	})
	return out
}

func (b *Builder) confidence(value string) float64 {
	for _, re := range b.vocabulary {
		if re.MatchString(value) {
			return confidenceKnown
		}
	}
	return confidenceDefault
}
