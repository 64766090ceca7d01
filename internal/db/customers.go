package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/werkbank/internal/models"
)

// ErrOrderNotFound is returned when an order number does not exist.
var ErrOrderNotFound = errors.New("order not found")

// FindCustomersByEmail returns up to limit customers whose email matches case-insensitively.
func FindCustomersByEmail(ctx context.Context, pool *pgxpool.Pool, email string, limit int) ([]*models.Customer, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM customers
		WHERE lower(email) = lower($1)
		ORDER BY created_at
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}

	return customers, nil
}

// CreateCustomer inserts a customer and sets its id.
func CreateCustomer(ctx context.Context, pool *pgxpool.Pool, customer *models.Customer) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO customers (name, email, phone)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		RETURNING id
	`, customer.Name, customer.Email, customer.Phone).Scan(&customer.ID)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetOrder returns an order by its order number.
func GetOrder(ctx context.Context, pool *pgxpool.Pool, orderID string) (*models.Order, error) {
	var o models.Order
	err := pool.QueryRow(ctx, `
		SELECT id, COALESCE(customer_id::text, ''), order_type, status, title
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.OrderType, &o.Status, &o.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// FindOpenOrdersForCustomer returns up to limit orders of the customer that are not complete.
func FindOpenOrdersForCustomer(ctx context.Context, pool *pgxpool.Pool, customerID string, limit int) ([]*models.Order, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, customer_id::text, order_type, status, title
		FROM orders
		WHERE customer_id = $1 AND status <> $2
		ORDER BY created_at
		LIMIT $3
	`, customerID, models.OrderStatusComplete, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find open orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.OrderType, &o.Status, &o.Title); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// CreateOrder inserts an order under its given order number.
func CreateOrder(ctx context.Context, pool *pgxpool.Pool, order *models.Order) error {
	if order.Status == "" {
		order.Status = "open"
	}
	if order.OrderType == "" {
		order.OrderType = models.OrderTypeGuitar
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO orders (id, customer_id, order_type, status, title)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
	`, order.ID, order.CustomerID, order.OrderType, order.Status, order.Title)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}
