package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Run("reads a contact form", func(t *testing.T) {
		text := "Name: Max Mustermann\r\n" +
			"E-Mail: Max@Example.com\r\n" +
			"Telefon: +49 170 1234567\r\n" +
			"Adresse: Hauptstraße 5, 10115 Berlin\r\n" +
			"Instrument: E-Gitarre\r\n" +
			"Modell: Stratocaster\r\n" +
			"Farbe: Sunburst\r\n" +
			"Anzahl: 2\r\n" +
			"Auftragsnummer: ord-2025-042\r\n"

		result := Parse(text)

		assert.Equal(t, StrategyForm, result.Strategy)
		assert.Equal(t, "Max Mustermann", result.Name)
		assert.Equal(t, "max@example.com", result.Email)
		assert.Equal(t, "+49 170 1234567", result.Phone)
		assert.Equal(t, "Hauptstraße 5, 10115 Berlin", result.Address)
		assert.Equal(t, "guitar", result.InstrumentType)
		assert.Equal(t, "Stratocaster", result.Model)
		assert.Equal(t, "Sunburst", result.Color)
		assert.Equal(t, 2, result.Quantity)
		assert.Equal(t, "ORD-2025-042", result.OrderNumber)
		assert.Empty(t, result.Notes, "rich results should not carry notes")
	})

	t.Run("reads free text", func(t *testing.T) {
		text := "Hallo,\n" +
			"ich hätte gerne einen neuen Hals für meine Tele, Farbe: Olympic White.\n" +
			"Meine Adresse: Lindenweg 12, 04109 Leipzig.\n" +
			"Erreichbar unter 0341 9876543 oder mail an anna.schmidt@example.de.\n" +
			"Gruß Anna"

		result := Parse(text)

		assert.Equal(t, StrategyFreeText, result.Strategy)
		assert.Equal(t, "anna.schmidt@example.de", result.Email)
		assert.Equal(t, "0341 9876543", result.Phone, "postal code must not be taken as phone")
		assert.Equal(t, "Lindenweg 12, 04109 Leipzig", result.Address)
		assert.Equal(t, "neck", result.InstrumentType)
		assert.Equal(t, "Olympic White", result.Color)
		assert.Empty(t, result.Notes)
	})

	t.Run("finds order numbers in free text", func(t *testing.T) {
		result := Parse("Kurze Frage zu ORD-2025-042: wann ist der Korpus fertig? Mail: kunde@example.org")

		assert.Equal(t, "ORD-2025-042", result.OrderNumber)
		assert.Equal(t, "body", result.InstrumentType)
		assert.Equal(t, "kunde@example.org", result.Email)
	})

	t.Run("does not read links as form lines", func(t *testing.T) {
		text := "Hallo,\n" +
			"hier meine Vorbilder für den neuen Korpus:\n" +
			"https://example.com/strat.jpg\n" +
			"https://example.com/tele.jpg\n" +
			"http://example.org/sg.png\n" +
			"Erreichbar unter 0341 9876543.\n" +
			"Gruß Ben"

		result := Parse(text)

		assert.Equal(t, StrategyFreeText, result.Strategy)
		assert.Equal(t, "0341 9876543", result.Phone)
		assert.Equal(t, "body", result.InstrumentType)
	})

	t.Run("drops invalid form values", func(t *testing.T) {
		text := "Name: Jo\n" +
			"E-Mail: not-an-email\n" +
			"Anzahl: viele\n" +
			"Auftragsnummer: 42\n"

		result := Parse(text)

		assert.Equal(t, StrategyForm, result.Strategy)
		assert.Equal(t, "Jo", result.Name)
		assert.Empty(t, result.Email)
		assert.Zero(t, result.Quantity)
		assert.Empty(t, result.OrderNumber)
		assert.Equal(t, strings.TrimSpace(text), result.Notes, "sparse results keep the text as notes")
	})

	t.Run("rejects out of range quantities", func(t *testing.T) {
		result := Parse("Name: Max\nAnzahl: 5000\nFarbe: Rot\n")
		assert.Zero(t, result.Quantity)
	})

	t.Run("keeps sparse text as notes", func(t *testing.T) {
		result := Parse("  Hi, can you call me back? Thanks  ")

		assert.Equal(t, StrategyFreeText, result.Strategy)
		assert.Equal(t, 0, result.FieldCount())
		assert.Equal(t, "Hi, can you call me back? Thanks", result.Notes)
	})

	t.Run("truncates notes", func(t *testing.T) {
		result := Parse(strings.Repeat("ä", 2500))
		assert.Equal(t, notesMaxRunes, utf8.RuneCountInString(result.Notes))
	})

	t.Run("never fails on empty input", func(t *testing.T) {
		result := Parse("")
		assert.Equal(t, 0, result.FieldCount())
		assert.Empty(t, result.Notes)
	})
}

func TestDetectInstrument(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"Ich brauche ein neues Schlagbrett für meine Gitarre", "pickguard"},
		{"Neue Tonabnehmer bitte", "pickup"},
		{"Ein Gitarrenhals aus Ahorn", "neck"},
		{"Can you engrave my headstock?", "laser"},
		{"Reparatur am Steg", "repair"},
		{"Ein Bass mit 5 Saiten", "bass"},
		{"Eine E-Gitarre", "guitar"},
		{"Hallo zusammen", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := detectInstrument(tt.text); got != tt.expected {
				t.Errorf("detectInstrument(%q) = %q, want %q", tt.text, got, tt.expected)
			}
		})
	}
}

func TestResultMap(t *testing.T) {
	r := Result{Name: "Max", Quantity: 3, Notes: "hello"}
	m := r.Map()

	assert.Equal(t, map[string]string{
		FieldName:     "Max",
		FieldQuantity: "3",
		FieldNotes:    "hello",
	}, m)
	assert.Equal(t, 2, r.FieldCount())
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+49 170 1234567", true},
		{"0341/9876543", true},
		{"(030) 123-456", true},
		{"12345", false},
		{"+49 170 CALLME", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			if got := validPhone(tt.phone); got != tt.valid {
				t.Errorf("validPhone(%q) = %v, want %v", tt.phone, got, tt.valid)
			}
		})
	}
}
