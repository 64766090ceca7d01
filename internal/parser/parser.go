// Package parser extracts contact and order signals from the plain text of a mail.
//
// Two strategies exist. Bodies with at least three "label: value" lines are read as a
// submitted contact form; everything else goes through free-text patterns. Each field is
// validated on its own and dropped when invalid, so parsing never fails.
package parser

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Strategy names the extraction mode that produced a Result.
type Strategy string

const (
	StrategyForm     Strategy = "form"
	StrategyFreeText Strategy = "freetext"
)

// Field keys used in Result.Map.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldAddress        = "address"
	FieldInstrumentType = "instrumentType"
	FieldModel          = "model"
	FieldColor          = "color"
	FieldQuantity       = "quantity"
	FieldOrderNumber    = "orderNumber"
	FieldNotes          = "notes"
)

const (
	minFormLines  = 3
	notesMaxRunes = 2000
	// Results with at most this many fields also keep the raw text as notes.
	sparseFieldCount = 2
)

type Result struct {
	Strategy       Strategy `json:"strategy"`
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Address        string   `json:"address,omitempty"`
	InstrumentType string   `json:"instrumentType,omitempty"`
	Model          string   `json:"model,omitempty"`
	Color          string   `json:"color,omitempty"`
	Quantity       int      `json:"quantity,omitempty"`
	OrderNumber    string   `json:"orderNumber,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Map returns the non-empty fields keyed by their field names.
func (r Result) Map() map[string]string {
	m := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set(FieldName, r.Name)
	set(FieldEmail, r.Email)
	set(FieldPhone, r.Phone)
	set(FieldAddress, r.Address)
	set(FieldInstrumentType, r.InstrumentType)
	set(FieldModel, r.Model)
	set(FieldColor, r.Color)
	if r.Quantity > 0 {
		m[FieldQuantity] = strconv.Itoa(r.Quantity)
	}
	set(FieldOrderNumber, r.OrderNumber)
	set(FieldNotes, r.Notes)
	return m
}

// FieldCount counts the extracted fields, not counting notes.
func (r Result) FieldCount() int {
	n := len(r.Map())
	if r.Notes != "" {
		n--
	}
	return n
}

// Parse extracts fields from a plain-text mail body.
func Parse(text string) Result {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var raw map[string]string
	strategy := StrategyFreeText
	if countFormLines(text) >= minFormLines {
		strategy = StrategyForm
		raw = parseForm(text)
	} else {
		raw = parseFreeText(text)
	}

	result := validate(raw)
	result.Strategy = strategy

	if result.FieldCount() <= sparseFieldCount {
		result.Notes = truncateRunes(strings.TrimSpace(text), notesMaxRunes)
	}
	return result
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
