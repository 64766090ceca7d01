// Package classify ranks the order types a mail most likely asks for.
//
// Classification is a fold of pure rules over an immutable Scoreboard. Each rule looks at the
// input (and the board built so far) and contributes at most one weighted reason to one
// order type.
package classify

import (
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/parser"
)

const maxSuggestions = 5

// FallbackReason is the only reason given when no rule fires.
const FallbackReason = "fallback"

// AttachmentInfo is the part of an attachment the rules look at.
type AttachmentInfo struct {
	Filename string
	MimeType string
}

// Input is everything the classifier knows about a mail.
type Input struct {
	Subject        string
	Body           string
	InstrumentType string
	Attachments    []AttachmentInfo
}

// FromMail builds an Input from a stored mail, parsing its text for the instrument type.
func FromMail(mail *models.Mail) Input {
	in := Input{
		Subject:        mail.Subject,
		Body:           mail.Text,
		InstrumentType: parser.Parse(mail.Text).InstrumentType,
	}
	for _, a := range mail.Attachments {
		in.Attachments = append(in.Attachments, AttachmentInfo{Filename: a.Filename, MimeType: a.MimeType})
	}
	return in
}

// searchText joins the subject, body and attachment names for keyword rules.
func (in Input) searchText() string {
	parts := []string{in.Subject, in.Body}
	for _, a := range in.Attachments {
		parts = append(parts, a.Filename)
	}
	return strings.Join(parts, "\n")
}

// Suggestion is one ranked order type.
type Suggestion struct {
	OrderType string   `json:"orderType"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// Score is the running total of one order type.
type Score struct {
	Value   float64
	Reasons []string
}

// Scoreboard holds one Score per order type. Add never mutates the receiver.
type Scoreboard map[string]Score

// Add returns a new board with weight and reason added to the order type.
func (b Scoreboard) Add(orderType string, weight float64, reason string) Scoreboard {
	next := maps.Clone(b)
	if next == nil {
		next = make(Scoreboard)
	}
	s := next[orderType]
	next[orderType] = Score{
		Value:   s.Value + weight,
		Reasons: append(slices.Clone(s.Reasons), reason),
	}
	return next
}

// Value returns the current score of an order type.
func (b Scoreboard) Value(orderType string) float64 {
	return b[orderType].Value
}

// Rule contributes Weight to OrderType when Match reports a reason.
type Rule struct {
	OrderType string
	Weight    float64
	Match     func(in Input, board Scoreboard) (reason string, ok bool)
}

// Apply folds the rules over an empty board in order.
func Apply(rules []Rule, in Input) Scoreboard {
	board := Scoreboard{}
	for _, r := range rules {
		if reason, ok := r.Match(in, board); ok {
			board = board.Add(r.OrderType, r.Weight, reason)
		}
	}
	return board
}

// Classify runs the default rules and returns the ranked order types.
func Classify(in Input) []Suggestion {
	return Rank(Apply(DefaultRules(), in))
}

// Rank turns a board into at most five suggestions sorted by score, then order type. An empty
// board yields a single low-confidence GUITAR suggestion.
func Rank(board Scoreboard) []Suggestion {
	var out []Suggestion
	for orderType, s := range board {
		if s.Value <= 0 {
			continue
		}
		out = append(out, Suggestion{
			OrderType: orderType,
			Score:     math.Round(s.Value*100) / 100,
			Reasons:   s.Reasons,
		})
	}

	if len(out) == 0 {
		return []Suggestion{{OrderType: models.OrderTypeGuitar, Score: 0.1, Reasons: []string{FallbackReason}}}
	}

	slices.SortFunc(out, func(a, b Suggestion) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.OrderType, b.OrderType)
	})
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func extension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}
