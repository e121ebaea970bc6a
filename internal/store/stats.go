package store

import (
	"context"
	"fmt"
	"time"
)

// Stats are the dashboard counters.
type Stats struct {
	Orders        int64     `json:"orders"`
	OrdersToday   int64     `json:"orders_today"`
	Customers     int64     `json:"customers"`
	Employees     int64     `json:"employees"`
	InventoryLow  int64     `json:"inventory_low"`
	Transactions  int64     `json:"transactions"`
	Expenses      int64     `json:"expenses"`
	OpenInquiries int64     `json:"open_inquiries"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CountOpenInquiries counts inquiries whose status is not "closed".
func (s *Store) CountOpenInquiries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Pool.QueryRow(ctx, `SELECT count(*) FROM inquiries WHERE data->>'status' IS DISTINCT FROM 'closed'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open inquiries: %w", err)
	}
	return n, nil
}

func (s *Store) DashboardStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.Pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM orders),
  (SELECT count(*) FROM orders WHERE created_at >= date_trunc('day', now())),
  (SELECT count(*) FROM customers),
  (SELECT count(*) FROM employees),
  (SELECT count(*) FROM inventory_items
     WHERE CASE WHEN jsonb_typeof(data->'quantity') = 'number' AND jsonb_typeof(data->'reorder_level') = 'number'
       THEN (data->>'quantity')::numeric <= (data->>'reorder_level')::numeric
       ELSE false END),
  (SELECT count(*) FROM transactions),
  (SELECT count(*) FROM expenses),
  (SELECT count(*) FROM inquiries WHERE data->>'status' IS DISTINCT FROM 'closed'),
  now();
`).Scan(&st.Orders, &st.OrdersToday, &st.Customers, &st.Employees, &st.InventoryLow,
		&st.Transactions, &st.Expenses, &st.OpenInquiries, &st.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &st, nil
}
