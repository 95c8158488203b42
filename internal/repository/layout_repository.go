// This file defines the Layout repository.  A layout is an ordered named
// collection of panel elements belonging to one broadcaster; deleting a
// layout cascades to its elements and their payloads inside one transaction.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bitspanel/ebs/internal/model"
)

// LayoutRepo encapsulates database queries for layouts.
type LayoutRepo struct {
	db *sql.DB
}

// NewLayoutRepo constructs a LayoutRepo with the provided DB handle.
func NewLayoutRepo(db *sql.DB) *LayoutRepo {
	return &LayoutRepo{db: db}
}

// Create inserts a new layout for a broadcaster.  On success the layout's ID
// field is populated with the auto-generated value.
func (r *LayoutRepo) Create(ctx context.Context, l *model.Layout) error {
	const q = `INSERT INTO layouts (broadcaster_id, name, title, show_title) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, l.BroadcasterID, l.Name, l.Title, l.ShowTitle)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// GetByID fetches a layout by id regardless of owner.  It returns ErrNotFound
// when no row exists.
func (r *LayoutRepo) GetByID(ctx context.Context, id int64) (*model.Layout, error) {
	const q = `SELECT id, broadcaster_id, name, title, show_title FROM layouts WHERE id = ?`
	var l model.Layout
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&l.ID, &l.BroadcasterID, &l.Name, &l.Title, &l.ShowTitle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListByBroadcaster returns all layouts owned by a broadcaster ordered by id.
func (r *LayoutRepo) ListByBroadcaster(ctx context.Context, broadcasterID int64) ([]*model.Layout, error) {
	const q = `SELECT id, broadcaster_id, name, title, show_title
	           FROM layouts WHERE broadcaster_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, broadcasterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Layout
	for rows.Next() {
		l := new(model.Layout)
		if err := rows.Scan(&l.ID, &l.BroadcasterID, &l.Name, &l.Title, &l.ShowTitle); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update modifies a layout's name, title and show_title flag.
func (r *LayoutRepo) Update(ctx context.Context, l *model.Layout) error {
	const q = `UPDATE layouts SET name = ?, title = ?, show_title = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, l.Name, l.Title, l.ShowTitle, l.ID)
	if err != nil {
		return err
	}
	// A zero row count here means the layout vanished between the ownership
	// check and the update.
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, l.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a layout together with its elements and payload rows.  The
// broadcaster's current/editing references to the layout are cleared in the
// same transaction so the panel never points at a deleted layout.
func (r *LayoutRepo) Delete(ctx context.Context, id int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var broadcasterID int64
	if err = tx.QueryRowContext(ctx,
		`SELECT broadcaster_id FROM layouts WHERE id = ?`, id).Scan(&broadcasterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return err
	}

	// Payload rows first, then elements, then the layout itself.
	if _, err = tx.ExecContext(ctx,
		`DELETE i FROM images i JOIN elements e ON e.id = i.element_id WHERE e.layout_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE t FROM texts t JOIN elements e ON e.id = t.element_id WHERE e.layout_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE w FROM webhooks w JOIN elements e ON e.id = w.element_id WHERE e.layout_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM elements WHERE layout_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM layouts WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE broadcasters SET current_layout_id = NULL WHERE id = ? AND current_layout_id = ?`,
		broadcasterID, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE broadcasters SET editing_layout_id = NULL WHERE id = ? AND editing_layout_id = ?`,
		broadcasterID, id); err != nil {
		return err
	}
	return nil
}
