// This file defines the Broadcaster repository.  Broadcaster rows are keyed
// by the platform channel id and are created lazily the first time an
// authenticated broadcaster touches the service; there is no sign-up flow.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bitspanel/ebs/internal/model"
)

// BroadcasterRepo encapsulates database queries for broadcasters.
type BroadcasterRepo struct {
	db *sql.DB
}

// NewBroadcasterRepo constructs a BroadcasterRepo with the provided DB handle.
func NewBroadcasterRepo(db *sql.DB) *BroadcasterRepo {
	return &BroadcasterRepo{db: db}
}

// Ensure creates the broadcaster row if it does not exist yet and returns the
// stored record.  INSERT IGNORE keeps this safe under concurrent first
// requests from the same channel.
func (r *BroadcasterRepo) Ensure(ctx context.Context, id int64) (*model.Broadcaster, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO broadcasters (id) VALUES (?)`, id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByID fetches a broadcaster by channel id.  It returns ErrNotFound when
// no row exists.
func (r *BroadcasterRepo) GetByID(ctx context.Context, id int64) (*model.Broadcaster, error) {
	const q = `SELECT id, current_layout_id, editing_layout_id FROM broadcasters WHERE id = ?`
	var b model.Broadcaster
	var current, editing sql.NullInt64
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&b.ID, &current, &editing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if current.Valid {
		b.CurrentLayoutID = &current.Int64
	}
	if editing.Valid {
		b.EditingLayoutID = &editing.Int64
	}
	return &b, nil
}

// SetCurrentLayout marks a layout as the one shown to viewers.  Ownership of
// the layout is enforced by the middleware before the handler calls this, so
// the update is unconditional.  RowsAffected is not checked: MySQL reports
// zero affected rows when the value is unchanged, which is a valid no-op.
func (r *BroadcasterRepo) SetCurrentLayout(ctx context.Context, broadcasterID, layoutID int64) error {
	const q = `UPDATE broadcasters SET current_layout_id = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, layoutID, broadcasterID)
	return err
}

// SetEditingLayout records which layout the broadcaster last selected in the
// config view.
func (r *BroadcasterRepo) SetEditingLayout(ctx context.Context, broadcasterID, layoutID int64) error {
	const q = `UPDATE broadcasters SET editing_layout_id = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, layoutID, broadcasterID)
	return err
}
