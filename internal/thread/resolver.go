// Package thread assigns conversation ids to mails from their RFC 5322 identity headers.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vdavid/werkbank/internal/db"
)

// maxReferences bounds how many References entries are checked, newest first.
const maxReferences = 5

// RefLookup finds the thread of an already stored mail by its Message-ID.
// Implementations return db.ErrMailNotFound when no mail matches.
type RefLookup interface {
	FindThreadRef(ctx context.Context, messageID string) (*db.ThreadRef, error)
}

var _ RefLookup = (*db.Store)(nil)

// Headers carries the identity headers of one mail.
type Headers struct {
	MessageID  string
	InReplyTo  string
	References []string
}

// Resolution is the thread a mail belongs to.
type Resolution struct {
	ThreadID string
	// OrderID is inherited from the matched ancestor, if it is linked.
	OrderID *string
	// Parent is the Message-ID of the matched ancestor; empty for a new thread.
	Parent string
}

// IsNew reports whether the mail starts its own thread.
func (r Resolution) IsNew() bool {
	return r.Parent == ""
}

type Resolver struct {
	refs RefLookup
}

func NewResolver(refs RefLookup) *Resolver {
	return &Resolver{refs: refs}
}

// Resolve returns the thread of the mail. In-Reply-To is checked first, then the last
// References entries from newest to oldest. Without any known ancestor the mail's own
// Message-ID becomes the thread id.
func (r *Resolver) Resolve(ctx context.Context, h Headers) (Resolution, error) {
	own := NormalizeID(h.MessageID)
	if own == "" {
		return Resolution{}, errors.New("message id is empty")
	}

	for _, candidate := range candidates(h) {
		if candidate == own {
			continue
		}
		ref, err := r.refs.FindThreadRef(ctx, candidate)
		if errors.Is(err, db.ErrMailNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to look up %s: %w", candidate, err)
		}
		return Resolution{ThreadID: ref.ThreadID, OrderID: ref.OrderID, Parent: candidate}, nil
	}

	return Resolution{ThreadID: own}, nil
}

// candidates lists the ancestors to try, in lookup order and without duplicates.
func candidates(h Headers) []string {
	ids := make([]string, 0, maxReferences+1)
	seen := make(map[string]bool)
	add := func(id string) {
		id = NormalizeID(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	add(h.InReplyTo)
	refs := h.References
	if len(refs) > maxReferences {
		refs = refs[len(refs)-maxReferences:]
	}
	for i := len(refs) - 1; i >= 0; i-- {
		add(refs[i])
	}
	return ids
}

// NormalizeID trims whitespace and angle brackets from a Message-ID.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// ParseIDList splits a References or In-Reply-To header value into normalized ids.
func ParseIDList(value string) []string {
	var ids []string
	for _, field := range strings.Fields(value) {
		for _, part := range strings.Split(field, "><") {
			if id := NormalizeID(part); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
