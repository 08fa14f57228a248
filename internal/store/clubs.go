package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/hurttlocker/canon/internal/errors"
)

// CreateClub inserts a club and seeds one category per template, in template order.
func (s *SQLiteStore) CreateClub(ctx context.Context, name string) (*Club, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewValidationError("name", name, "club name is required")
	}

	club := &Club{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clubs (id, name, created_at) VALUES (?, ?, ?)`,
		club.ID, club.Name, club.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting club: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO categories (id, club_id, key, label, order_index) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("preparing category insert: %w", err)
	}
	defer stmt.Close()

	for i, tmpl := range CategoryTemplates {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), club.ID, string(tmpl.Key), tmpl.Label, i); err != nil {
			return nil, fmt.Errorf("seeding category %s: %w", tmpl.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing club: %w", err)
	}
	return club, nil
}

// GetClub retrieves a club by ID.
func (s *SQLiteStore) GetClub(ctx context.Context, id string) (*Club, error) {
	c := &Club{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM clubs WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFoundError("club", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting club %s: %w", id, err)
	}
	return c, nil
}

// ListClubs returns all clubs, oldest first.
func (s *SQLiteStore) ListClubs(ctx context.Context) ([]*Club, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM clubs ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing clubs: %w", err)
	}
	defer rows.Close()

	var clubs []*Club
	for rows.Next() {
		c := &Club{}
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning club: %w", err)
		}
		clubs = append(clubs, c)
	}
	return clubs, rows.Err()
}

// ListCategories returns a club's categories in display order.
func (s *SQLiteStore) ListCategories(ctx context.Context, clubID string) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, club_id, key, label, order_index FROM categories
		 WHERE club_id = ? ORDER BY order_index ASC`, clubID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var cats []*Category
	for rows.Next() {
		c := &Category{}
		if err := rows.Scan(&c.ID, &c.ClubID, &c.Key, &c.Label, &c.OrderIndex); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetCategoryByKey resolves a club's category by its key.
func (s *SQLiteStore) GetCategoryByKey(ctx context.Context, clubID string, key CategoryKey) (*Category, error) {
	return getCategoryByKey(ctx, s.db, clubID, key)
}

func (t *sqlTx) GetCategoryByKey(ctx context.Context, clubID string, key CategoryKey) (*Category, error) {
	return getCategoryByKey(ctx, t.tx, clubID, key)
}

func (t *sqlTx) GetCategory(ctx context.Context, id string) (*Category, error) {
	c := &Category{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, club_id, key, label, order_index FROM categories WHERE id = ?`, id,
	).Scan(&c.ID, &c.ClubID, &c.Key, &c.Label, &c.OrderIndex)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFoundError("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting category %s: %w", id, err)
	}
	return c, nil
}

func getCategoryByKey(ctx context.Context, q querier, clubID string, key CategoryKey) (*Category, error) {
	c := &Category{}
	err := q.QueryRowContext(ctx,
		`SELECT id, club_id, key, label, order_index FROM categories
		 WHERE club_id = ? AND key = ?`, clubID, string(key),
	).Scan(&c.ID, &c.ClubID, &c.Key, &c.Label, &c.OrderIndex)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFoundError("category", clubID+"/"+string(key))
	}
	if err != nil {
		return nil, fmt.Errorf("getting category %s: %w", key, err)
	}
	return c, nil
}
