package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jsherman999/tailorboard/internal/db"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrNotFound        = errors.New("not found")
	ErrInvalidData     = errors.New("data must be a JSON object")
)

// Resources are the business tables exposed through the store.
var Resources = []string{
	"orders", "order_items", "production_stages",
	"inventory_items", "inventory_movements",
	"employees", "attendance",
	"customers", "measurements",
	"transactions", "expenses",
	"inquiries",
}

var resourceSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Resources))
	for _, r := range Resources {
		m[r] = struct{}{}
	}
	return m
}()

// ValidResource reports whether name is one of Resources.
func ValidResource(name string) bool {
	_, ok := resourceSet[name]
	return ok
}

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }

// Record is one row of any resource table.
type Record struct {
	ID        int64           `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func table(resource string) (string, error) {
	if !ValidResource(resource) {
		return "", fmt.Errorf("%q: %w", resource, ErrUnknownResource)
	}
	return pgx.Identifier{resource}.Sanitize(), nil
}

func checkData(data json.RawMessage) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return ErrInvalidData
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var data []byte
	if err := row.Scan(&r.ID, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Data = data
	return &r, nil
}

// List returns the newest limit rows of resource.
func (s *Store) List(ctx context.Context, resource string, limit int) ([]Record, error) {
	tbl, err := table(resource)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `SELECT id, data, created_at, updated_at FROM `+tbl+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", resource, err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, resource string, id int64) (*Record, error) {
	tbl, err := table(resource)
	if err != nil {
		return nil, err
	}
	r, err := scanRecord(s.db.Pool.QueryRow(ctx, `SELECT id, data, created_at, updated_at FROM `+tbl+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", resource, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", resource, id, err)
	}
	return r, nil
}

func (s *Store) Create(ctx context.Context, resource string, data json.RawMessage) (*Record, error) {
	tbl, err := table(resource)
	if err != nil {
		return nil, err
	}
	if err := checkData(data); err != nil {
		return nil, err
	}
	r, err := scanRecord(s.db.Pool.QueryRow(ctx, `
INSERT INTO `+tbl+`(data) VALUES ($1::jsonb)
RETURNING id, data, created_at, updated_at;
`, string(data)))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resource, err)
	}
	return r, nil
}

// Update replaces the data of an existing row.
func (s *Store) Update(ctx context.Context, resource string, id int64, data json.RawMessage) (*Record, error) {
	tbl, err := table(resource)
	if err != nil {
		return nil, err
	}
	if err := checkData(data); err != nil {
		return nil, err
	}
	r, err := scanRecord(s.db.Pool.QueryRow(ctx, `
UPDATE `+tbl+` SET data=$2::jsonb WHERE id=$1
RETURNING id, data, created_at, updated_at;
`, id, string(data)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", resource, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s %d: %w", resource, id, err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, resource string, id int64) error {
	tbl, err := table(resource)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM `+tbl+` WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", resource, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", resource, id, ErrNotFound)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, resource string) (int64, error) {
	tbl, err := table(resource)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.Pool.QueryRow(ctx, `SELECT count(*) FROM `+tbl).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", resource, err)
	}
	return n, nil
}
