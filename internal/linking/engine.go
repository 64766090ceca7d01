// Package linking decides which customer and order an incoming or outgoing mail belongs to.
package linking

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/models"
)

// Source tells which signal produced a link decision.
type Source string

const (
	SourceSubjectTag       Source = "subject-tag"
	SourceBodyTag          Source = "body-tag"
	SourceThread           Source = "thread"
	SourceCustomerFallback Source = "customer-fallback"
	SourceNone             Source = "none"
)

var subjectTagRE = regexp.MustCompile(`\[(ORD-\d{4}-\d+)\]`)

// OrderLookup reads orders from the CRUD store.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindOpenOrdersForCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error)
}

// ThreadPropagator writes an order onto the unlinked mails of a thread.
type ThreadPropagator interface {
	PropagateOrderToThread(ctx context.Context, threadID, orderID string) (int64, error)
}

// OrderImageMirror copies an image attachment into an order's image gallery.
// It reports false when the attachment was already mirrored.
type OrderImageMirror interface {
	MirrorOrderImage(ctx context.Context, orderID string, attachment models.Attachment) (bool, error)
}

var (
	_ OrderLookup      = (*db.Store)(nil)
	_ ThreadPropagator = (*db.Store)(nil)
	_ OrderImageMirror = (*db.Store)(nil)
)

// Input holds the signals known about a mail at link time.
type Input struct {
	Subject string
	// OrderNumber comes from the parsed body.
	OrderNumber string
	// ThreadOrderID is the order inherited from the mail's thread, if any.
	ThreadOrderID *string
	Customer      *models.Customer
}

// Decision is the outcome of Decide. OrderID is empty when the mail stays unlinked.
type Decision struct {
	OrderID string
	Source  Source
}

// Linked reports whether an order was chosen.
func (d Decision) Linked() bool {
	return d.OrderID != ""
}

type Engine struct {
	orders  OrderLookup
	threads ThreadPropagator
	images  OrderImageMirror
}

func NewEngine(orders OrderLookup, threads ThreadPropagator, images OrderImageMirror) *Engine {
	return &Engine{orders: orders, threads: threads, images: images}
}

// SubjectTag returns the order number tagged in a subject like "Re: Hals [ORD-2025-042]".
func SubjectTag(subject string) string {
	if m := subjectTagRE.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	return ""
}

// Decide picks the order for a mail. An explicit tag naming an existing order wins outright,
// then the thread's order, then the single open order of a resolved customer.
func (e *Engine) Decide(ctx context.Context, in Input) (Decision, error) {
	tags := []struct {
		orderID string
		source  Source
	}{
		{SubjectTag(in.Subject), SourceSubjectTag},
		{in.OrderNumber, SourceBodyTag},
	}
	for _, tag := range tags {
		if tag.orderID == "" {
			continue
		}
		ok, err := e.orderExists(ctx, tag.orderID)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{OrderID: tag.orderID, Source: tag.source}, nil
		}
	}

	if in.ThreadOrderID != nil && *in.ThreadOrderID != "" {
		return Decision{OrderID: *in.ThreadOrderID, Source: SourceThread}, nil
	}

	if in.Customer != nil {
		orders, err := e.orders.FindOpenOrdersForCustomer(ctx, in.Customer.ID, 2)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to find open orders: %w", err)
		}
		if len(orders) == 1 {
			return Decision{OrderID: orders[0].ID, Source: SourceCustomerFallback}, nil
		}
	}

	return Decision{Source: SourceNone}, nil
}

func (e *Engine) orderExists(ctx context.Context, orderID string) (bool, error) {
	_, err := e.orders.GetOrder(ctx, orderID)
	if errors.Is(err, db.ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order %s: %w", orderID, err)
	}
	return true, nil
}

// Propagate links every unlinked mail of the thread to the order. Mails already linked
// keep their order, so repeated or overlapping calls converge.
func (e *Engine) Propagate(ctx context.Context, threadID, orderID string) (int64, error) {
	if threadID == "" || orderID == "" {
		return 0, nil
	}
	n, err := e.threads.PropagateOrderToThread(ctx, threadID, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate order %s: %w", orderID, err)
	}
	return n, nil
}

// MirrorImages copies the image attachments of a linked mail to the order and returns how many
// were new.
func (e *Engine) MirrorImages(ctx context.Context, orderID string, attachments []models.Attachment) (int, error) {
	mirrored := 0
	for _, a := range attachments {
		if !a.IsImage() {
			continue
		}
		added, err := e.images.MirrorOrderImage(ctx, orderID, a)
		if err != nil {
			return mirrored, fmt.Errorf("failed to mirror %s: %w", a.Filename, err)
		}
		if added {
			mirrored++
		}
	}
	return mirrored, nil
}
