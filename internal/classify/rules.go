package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vdavid/werkbank/internal/models"
)

const (
	weightInstrument = 3.0
	weightKeyword    = 2.0
	weightHint       = 1.5
	weightVector     = 1.0
	weightPDF        = 0.2
	weightRaster     = 0.3
	weightRefinish   = 0.5
)

// instrumentOrderTypes maps parsed instrument types to order types, in rule order.
var instrumentOrderTypes = []struct {
	instrument string
	orderType  string
}{
	{"guitar", models.OrderTypeGuitar},
	{"bass", models.OrderTypeGuitar},
	{"neck", models.OrderTypeNeck},
	{"body", models.OrderTypeBody},
	{"pickup", models.OrderTypePickups},
	{"pickguard", models.OrderTypePickguard},
	{"laser", models.OrderTypeEngraving},
	{"repair", models.OrderTypeRepair},
}

var keywordRules = []struct {
	name      string
	orderType string
	weight    float64
	re        *regexp.Regexp
}{
	{"repair", models.OrderTypeRepair, weightKeyword, regexp.MustCompile(`(?i)reparatur|\brepar|\brepair|defekt|kaputt|neubundierung|\brefret|\bsetup\b|\briss\b`)},
	{"neck", models.OrderTypeNeck, weightKeyword, regexp.MustCompile(`(?i)\bhals|\bhälse|gitarrenhals|\bnecks?\b|griffbrett|fretboard|kopfplatte|headstock`)},
	{"body", models.OrderTypeBody, weightKeyword, regexp.MustCompile(`(?i)\bkorpus|\bbody\b|\bbodies\b`)},
	{"pickguard", models.OrderTypePickguard, weightKeyword, regexp.MustCompile(`(?i)pick-?guard|schlagbrett`)},
	{"pickup", models.OrderTypePickups, weightKeyword, regexp.MustCompile(`(?i)\bpick-?ups?\b|tonabnehmer|humbucker|single-?coil|\bp-?90\b`)},
	{"engraving", models.OrderTypeEngraving, weightKeyword, regexp.MustCompile(`(?i)gravur|gravier|\blaser|\bengrav`)},
	{"model", models.OrderTypeGuitar, weightHint, regexp.MustCompile(`(?i)stratocaster|\bstrat\b|telecaster|\btele\b|les ?paul|jazzmaster|\bjaguar\b|\bmustang\b|\bsg\b|\bexplorer\b|flying ?v\b|\boffset\b`)},
	{"finish", models.OrderTypeFinishOnly, weightHint, regexp.MustCompile(`(?i)lackier|\black\b|\brefinish|\bfinish\b|nitro|sunburst|\brelic|\bbeiz|polier`)},
}

var (
	vectorExtensions = map[string]bool{"svg": true, "eps": true, "ai": true, "dxf": true}
	rasterExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "heic": true, "tif": true, "tiff": true, "bmp": true}
)

// DefaultRules returns the rule list in evaluation order. The refinish rule reads the board and
// must stay last.
func DefaultRules() []Rule {
	var rules []Rule
	for _, m := range instrumentOrderTypes {
		rules = append(rules, InstrumentRule(m.instrument, m.orderType))
	}
	for _, k := range keywordRules {
		rules = append(rules, KeywordRule(k.name, k.orderType, k.weight, k.re))
	}
	rules = append(rules,
		AttachmentRule("vector", models.OrderTypeEngraving, weightVector, isVector),
		AttachmentRule("pdf", models.OrderTypeGuitar, weightPDF, isPDF),
		AttachmentRule("pdf", models.OrderTypePickguard, weightPDF, isPDF),
		AttachmentRule("pdf", models.OrderTypePickups, weightPDF, isPDF),
		AttachmentRule("image", models.OrderTypeFinishOnly, weightRaster, isRaster),
		RefinishRule(),
	)
	return rules
}

// InstrumentRule fires when the parser recognized the instrument type.
func InstrumentRule(instrument, orderType string) Rule {
	return Rule{
		OrderType: orderType,
		Weight:    weightInstrument,
		Match: func(in Input, _ Scoreboard) (string, bool) {
			if in.InstrumentType != instrument {
				return "", false
			}
			return "parsed:instrumentType=" + instrument, true
		},
	}
}

// KeywordRule fires on the first match of re in the subject, body or attachment names.
func KeywordRule(name, orderType string, weight float64, re *regexp.Regexp) Rule {
	return Rule{
		OrderType: orderType,
		Weight:    weight,
		Match: func(in Input, _ Scoreboard) (string, bool) {
			m := re.FindString(in.searchText())
			if m == "" {
				return "", false
			}
			return fmt.Sprintf("keyword:%s (%q)", name, strings.ToLower(m)), true
		},
	}
}

// AttachmentRule fires on the first attachment accepted by match.
func AttachmentRule(kind, orderType string, weight float64, match func(AttachmentInfo) bool) Rule {
	return Rule{
		OrderType: orderType,
		Weight:    weight,
		Match: func(in Input, _ Scoreboard) (string, bool) {
			for _, a := range in.Attachments {
				if match(a) {
					return fmt.Sprintf("attachment:%s (%q)", kind, a.Filename), true
				}
			}
			return "", false
		},
	}
}

// RefinishRule boosts FINISH_ONLY when both finish and guitar signals are present, which
// usually means an existing guitar should be refinished.
func RefinishRule() Rule {
	return Rule{
		OrderType: models.OrderTypeFinishOnly,
		Weight:    weightRefinish,
		Match: func(_ Input, board Scoreboard) (string, bool) {
			if board.Value(models.OrderTypeFinishOnly) > 0 && board.Value(models.OrderTypeGuitar) > 0 {
				return "combined:refinish", true
			}
			return "", false
		},
	}
}

func isVector(a AttachmentInfo) bool {
	return vectorExtensions[extension(a.Filename)] || strings.EqualFold(a.MimeType, "image/svg+xml")
}

func isPDF(a AttachmentInfo) bool {
	return extension(a.Filename) == "pdf" || strings.EqualFold(a.MimeType, "application/pdf")
}

func isRaster(a AttachmentInfo) bool {
	if isVector(a) {
		return false
	}
	return rasterExtensions[extension(a.Filename)] || strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}
