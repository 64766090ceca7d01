package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/werkbank/internal/models"
)

func TestBuild(t *testing.T) {
	src := Source{
		MailID:  "mail-1",
		Subject: "Neue Strat",
		Date:    time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	builder := NewBuilder()

	t.Run("maps fields through the guitar preset", func(t *testing.T) {
		fields := map[string]string{
			"color":          "3-Tone Sunburst",
			"model":          "Custom Build",
			"instrumentType": "guitar",
			"email":          "anna@example.com",
		}

		result := builder.Build(models.OrderTypeGuitar, fields, src)

		var keys []string
		for _, s := range result {
			keys = append(keys, s.Field)
			assert.Equal(t, "mail-1", s.SourceMailID)
			assert.Equal(t, "Neue Strat (2025-03-14)", s.SourceLabel)
		}
		assert.Equal(t, []string{
			FieldBodyShape,
			FieldFinishColor,
			FieldGuitarModel,
			FieldInstrumentType,
			FieldPickguardColor,
			FieldPickupModel,
		}, keys)
	})

	t.Run("scores vocabulary matches higher", func(t *testing.T) {
		result := builder.Build(models.OrderTypeFinishOnly, map[string]string{
			"color": "olympic_white",
			"model": "Custom Build",
		}, src)

		confidence := make(map[string]float64)
		for _, s := range result {
			confidence[s.Field] = s.Confidence
		}
		assert.Equal(t, 0.9, confidence[FieldFinishColor])
		assert.Equal(t, 0.7, confidence[FieldGuitarModel])
		assert.Equal(t, 0.7, confidence[FieldBodyShape])
	})

	t.Run("recognizes shapes with flexible separators", func(t *testing.T) {
		result := builder.Build(models.OrderTypeBody, map[string]string{"model": "LES-PAUL Junior"}, src)

		assert.Equal(t, []Suggestion{{
			Field:        FieldBodyShape,
			Value:        "LES-PAUL Junior",
			Confidence:   0.9,
			SourceMailID: "mail-1",
			SourceLabel:  "Neue Strat (2025-03-14)",
		}}, result)
	})

	t.Run("filters to the preset", func(t *testing.T) {
		result := builder.Build(models.OrderTypeEngraving, map[string]string{
			"color": "black",
			"notes": "Bitte unser Logo gravieren",
		}, src)

		if assert.Len(t, result, 1) {
			assert.Equal(t, FieldCustomerNotes, result[0].Field)
		}
	})

	t.Run("ignores unknown order types and empty values", func(t *testing.T) {
		assert.Empty(t, builder.Build("UKULELE", map[string]string{"color": "black"}, src))
		assert.Empty(t, builder.Build(models.OrderTypeGuitar, map[string]string{"color": "  "}, src))
	})
}

func TestSourceLabel(t *testing.T) {
	src := Source{Date: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "(no subject) (2024-12-01)", src.Label())
}
