package linking

import (
	"context"
	"fmt"
	"strings"

	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/models"
)

// CustomerLookup finds customers by email address.
type CustomerLookup interface {
	FindCustomersByEmail(ctx context.Context, email string, limit int) ([]*models.Customer, error)
}

var _ CustomerLookup = (*db.Store)(nil)

// CustomerResolver maps a sender address to a customer only when the match is unambiguous.
type CustomerResolver struct {
	customers CustomerLookup
}

func NewCustomerResolver(customers CustomerLookup) *CustomerResolver {
	return &CustomerResolver{customers: customers}
}

// Resolve returns the customer with the given email, or nil when zero or several customers
// share it. Ambiguity is not an error.
func (r *CustomerResolver) Resolve(ctx context.Context, email string) (*models.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}

	// Two rows are enough to tell "exactly one" from "more than one".
	customers, err := r.customers.FindCustomersByEmail(ctx, email, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}
	if len(customers) != 1 {
		return nil, nil
	}
	return customers[0], nil
}
