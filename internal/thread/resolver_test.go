package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/werkbank/internal/db"
)

type fakeRefs struct {
	refs    map[string]db.ThreadRef
	lookups []string
	err     error
}

func newFakeRefs() *fakeRefs {
	return &fakeRefs{refs: make(map[string]db.ThreadRef)}
}

func (f *fakeRefs) FindThreadRef(_ context.Context, messageID string) (*db.ThreadRef, error) {
	f.lookups = append(f.lookups, messageID)
	if f.err != nil {
		return nil, f.err
	}
	ref, ok := f.refs[messageID]
	if !ok {
		return nil, db.ErrMailNotFound
	}
	return &ref, nil
}

// store records a resolved mail the way ingestion would.
func (f *fakeRefs) store(messageID string, res Resolution) {
	f.refs[messageID] = db.ThreadRef{ThreadID: res.ThreadID, OrderID: res.OrderID}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("converges A, B, C onto one thread", func(t *testing.T) {
		refs := newFakeRefs()
		resolver := NewResolver(refs)

		a, err := resolver.Resolve(ctx, Headers{MessageID: "<a@example.com>"})
		require.NoError(t, err)
		assert.True(t, a.IsNew())
		assert.Equal(t, "a@example.com", a.ThreadID)
		refs.store("a@example.com", a)

		b, err := resolver.Resolve(ctx, Headers{MessageID: "b@example.com", InReplyTo: "<a@example.com>"})
		require.NoError(t, err)
		assert.Equal(t, a.ThreadID, b.ThreadID)
		assert.Equal(t, "a@example.com", b.Parent)
		refs.store("b@example.com", b)

		c, err := resolver.Resolve(ctx, Headers{
			MessageID:  "c@example.com",
			References: []string{"<a@example.com>", "<b@example.com>"},
		})
		require.NoError(t, err)
		assert.Equal(t, a.ThreadID, c.ThreadID)
		assert.Equal(t, "b@example.com", c.Parent, "most recent reference wins")
	})

	t.Run("inherits the ancestor's order", func(t *testing.T) {
		refs := newFakeRefs()
		order := "ORD-2025-042"
		refs.refs["a@example.com"] = db.ThreadRef{ThreadID: "a@example.com", OrderID: &order}

		res, err := NewResolver(refs).Resolve(ctx, Headers{MessageID: "b@example.com", InReplyTo: "a@example.com"})
		require.NoError(t, err)
		require.NotNil(t, res.OrderID)
		assert.Equal(t, order, *res.OrderID)
	})

	t.Run("bridges gaps in the reference chain", func(t *testing.T) {
		refs := newFakeRefs()
		refs.refs["a@example.com"] = db.ThreadRef{ThreadID: "a@example.com"}

		res, err := NewResolver(refs).Resolve(ctx, Headers{
			MessageID:  "d@example.com",
			InReplyTo:  "c@example.com",
			References: []string{"a@example.com", "b@example.com", "c@example.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", res.ThreadID)
		assert.Equal(t, []string{"c@example.com", "b@example.com", "a@example.com"}, refs.lookups)
	})

	t.Run("checks at most six ancestors", func(t *testing.T) {
		refs := newFakeRefs()
		refs.refs["r0@example.com"] = db.ThreadRef{ThreadID: "r0@example.com"}

		res, err := NewResolver(refs).Resolve(ctx, Headers{
			MessageID:  "new@example.com",
			InReplyTo:  "missing@example.com",
			References: []string{
				"r0@example.com", "r1@example.com", "r2@example.com",
				"r3@example.com", "r4@example.com", "r5@example.com",
			},
		})
		require.NoError(t, err)
		assert.True(t, res.IsNew(), "r0 is outside the reference window")
		assert.Equal(t, "new@example.com", res.ThreadID)
		assert.Len(t, refs.lookups, 6)
	})

	t.Run("ignores self references", func(t *testing.T) {
		refs := newFakeRefs()
		refs.refs["a@example.com"] = db.ThreadRef{ThreadID: "other"}

		res, err := NewResolver(refs).Resolve(ctx, Headers{MessageID: "a@example.com", InReplyTo: "a@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", res.ThreadID)
		assert.Empty(t, refs.lookups)
	})

	t.Run("returns lookup errors", func(t *testing.T) {
		refs := newFakeRefs()
		refs.err = errors.New("connection reset")

		_, err := NewResolver(refs).Resolve(ctx, Headers{MessageID: "b@example.com", InReplyTo: "a@example.com"})
		assert.Error(t, err)
	})

	t.Run("rejects empty message ids", func(t *testing.T) {
		_, err := NewResolver(newFakeRefs()).Resolve(ctx, Headers{MessageID: " <> "})
		assert.Error(t, err)
	})
}

func TestParseIDList(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected []string
	}{
		{"spaced", "<a@x> <b@x>", []string{"a@x", "b@x"}},
		{"folded", "<a@x>\r\n <b@x>", []string{"a@x", "b@x"}},
		{"unspaced", "<a@x><b@x>", []string{"a@x", "b@x"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseIDList(tt.value))
		})
	}
}
