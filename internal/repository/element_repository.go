// This file defines the Element repository.  Elements are the positioned
// slots of a layout; each carries exactly one payload (image, text or
// webhook) selected by its type.  Every structural change (create, delete,
// reorder) runs inside one transaction and finishes with a re-sequencing pass
// so positions stay a contiguous permutation of 0..n-1.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/bitspanel/ebs/internal/model"
)

// ElementRepo encapsulates database queries for elements and their payloads.
type ElementRepo struct {
	db *sql.DB
}

// NewElementRepo constructs an ElementRepo with the provided DB handle.
func NewElementRepo(db *sql.DB) *ElementRepo {
	return &ElementRepo{db: db}
}

// ListByLayout returns the elements of a layout ordered by position, each
// with its payload attached.  A layout with zero elements yields an empty
// slice, not an error.
func (r *ElementRepo) ListByLayout(ctx context.Context, layoutID int64) ([]*model.Element, error) {
	const q = `SELECT id, layout_id, element_type, position
	           FROM elements WHERE layout_id = ? ORDER BY position, id`
	rows, err := r.db.QueryContext(ctx, q, layoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Element
	for rows.Next() {
		e := new(model.Element)
		if err := rows.Scan(&e.ID, &e.LayoutID, &e.Type, &e.Position); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range out {
		if err := r.attachPayload(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetElement fetches a single element with its payload.
func (r *ElementRepo) GetElement(ctx context.Context, id int64) (*model.Element, error) {
	const q = `SELECT id, layout_id, element_type, position FROM elements WHERE id = ?`
	e := new(model.Element)
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&e.ID, &e.LayoutID, &e.Type, &e.Position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := r.attachPayload(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ElementRepo) attachPayload(ctx context.Context, e *model.Element) error {
	var err error
	switch e.Type {
	case model.ElementImage:
		e.Image, err = r.imageByElement(ctx, e.ID)
	case model.ElementText:
		e.Text, err = r.textByElement(ctx, e.ID)
	case model.ElementWebhook:
		e.Webhook, err = r.webhookByElement(ctx, e.ID)
	}
	return err
}

// GetImage fetches an image payload by its own id, used for serving bytes.
func (r *ElementRepo) GetImage(ctx context.Context, id int64) (*model.Image, error) {
	const q = `SELECT id, element_id, filename, data, date_modified FROM images WHERE id = ?`
	var img model.Image
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&img.ID, &img.ElementID, &img.Filename, &img.Data, &img.DateModified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

// WebhookByID fetches a webhook payload by its own id.  The redemption relay
// resolves webhooks through this method.
func (r *ElementRepo) WebhookByID(ctx context.Context, id int64) (*model.Webhook, error) {
	const q = `SELECT id, element_id, name, url, bits_product, data, include_transaction_data, cooldown
	           FROM webhooks WHERE id = ?`
	return r.scanWebhook(r.db.QueryRowContext(ctx, q, id))
}

func (r *ElementRepo) imageByElement(ctx context.Context, elementID int64) (*model.Image, error) {
	const q = `SELECT id, element_id, filename, data, date_modified FROM images WHERE element_id = ?`
	var img model.Image
	if err := r.db.QueryRowContext(ctx, q, elementID).Scan(&img.ID, &img.ElementID, &img.Filename, &img.Data, &img.DateModified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

func (r *ElementRepo) textByElement(ctx context.Context, elementID int64) (*model.Text, error) {
	const q = `SELECT id, element_id, text FROM texts WHERE element_id = ?`
	var t model.Text
	if err := r.db.QueryRowContext(ctx, q, elementID).Scan(&t.ID, &t.ElementID, &t.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *ElementRepo) webhookByElement(ctx context.Context, elementID int64) (*model.Webhook, error) {
	const q = `SELECT id, element_id, name, url, bits_product, data, include_transaction_data, cooldown
	           FROM webhooks WHERE element_id = ?`
	return r.scanWebhook(r.db.QueryRowContext(ctx, q, elementID))
}

func (r *ElementRepo) scanWebhook(row *sql.Row) (*model.Webhook, error) {
	var w model.Webhook
	var data []byte
	if err := row.Scan(&w.ID, &w.ElementID, &w.Name, &w.URL, &w.BitsProduct, &data, &w.IncludeTransactionData, &w.Cooldown); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &w.Data); err != nil {
			return nil, err
		}
	}
	if w.Data == nil {
		w.Data = map[string]any{}
	}
	return &w, nil
}

// CreateText appends a text element to a layout.  The element is inserted at
// the next free position and the layout is re-sequenced before commit.
func (r *ElementRepo) CreateText(ctx context.Context, layoutID int64, text string) (*model.Element, error) {
	return r.createElement(ctx, layoutID, model.ElementText, func(tx *sql.Tx, elementID int64) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO texts (element_id, text) VALUES (?, ?)`, elementID, text)
		return err
	})
}

// CreateImage appends an image element to a layout.
func (r *ElementRepo) CreateImage(ctx context.Context, layoutID int64, filename string, data []byte) (*model.Element, error) {
	return r.createElement(ctx, layoutID, model.ElementImage, func(tx *sql.Tx, elementID int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO images (element_id, filename, data) VALUES (?, ?, ?)`, elementID, filename, data)
		return err
	})
}

// CreateWebhook appends a webhook element to a layout.  The caller validates
// the bits product and HTTPS url before this is reached.
func (r *ElementRepo) CreateWebhook(ctx context.Context, layoutID int64, w *model.Webhook) (*model.Element, error) {
	data, err := json.Marshal(w.Data)
	if err != nil {
		return nil, err
	}
	return r.createElement(ctx, layoutID, model.ElementWebhook, func(tx *sql.Tx, elementID int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhooks (element_id, name, url, bits_product, data, include_transaction_data, cooldown)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			elementID, w.Name, w.URL, w.BitsProduct, data, w.IncludeTransactionData, w.Cooldown)
		return err
	})
}

// createElement inserts the element row at the next free position, lets
// insertPayload add the payload row, then re-sequences the layout.  The whole
// sequence commits or rolls back as one unit.
func (r *ElementRepo) createElement(ctx context.Context, layoutID int64, typ model.ElementType, insertPayload func(tx *sql.Tx, elementID int64) error) (e *model.Element, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	// Verify the layout exists so a stale id fails with ErrNotFound instead
	// of a dangling foreign key error.
	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM layouts WHERE id = ?`, layoutID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}

	var next sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		`SELECT MAX(position) + 1 FROM elements WHERE layout_id = ?`, layoutID).Scan(&next); err != nil {
		return nil, err
	}
	pos := 0
	if next.Valid {
		pos = int(next.Int64)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO elements (layout_id, element_type, position) VALUES (?, ?, ?)`, layoutID, typ, pos)
	if err != nil {
		return nil, err
	}
	elementID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err = insertPayload(tx, elementID); err != nil {
		return nil, err
	}
	if err = resequenceTx(ctx, tx, layoutID); err != nil {
		return nil, err
	}
	return &model.Element{ID: elementID, LayoutID: layoutID, Type: typ, Position: pos}, nil
}

// UpdateText replaces the content of a text payload.
func (r *ElementRepo) UpdateText(ctx context.Context, textID int64, text string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE texts SET text = ? WHERE id = ?`, text, textID)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, `SELECT 1 FROM texts WHERE id = ?`, textID)
}

// UpdateImage replaces the bytes and filename of an image payload.  The
// date_modified column is bumped so cached image URLs change version.
func (r *ElementRepo) UpdateImage(ctx context.Context, imageID int64, filename string, data []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE images SET filename = ?, data = ?, date_modified = CURRENT_TIMESTAMP WHERE id = ?`,
		filename, data, imageID)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, `SELECT 1 FROM images WHERE id = ?`, imageID)
}

// UpdateWebhook replaces all editable fields of a webhook payload.
func (r *ElementRepo) UpdateWebhook(ctx context.Context, w *model.Webhook) error {
	data, err := json.Marshal(w.Data)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET name = ?, url = ?, bits_product = ?, data = ?, include_transaction_data = ?, cooldown = ?
		 WHERE id = ?`,
		w.Name, w.URL, w.BitsProduct, data, w.IncludeTransactionData, w.Cooldown, w.ID)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, `SELECT 1 FROM webhooks WHERE id = ?`, w.ID)
}

// checkUpdated distinguishes "row missing" from "values unchanged" after an
// UPDATE reporting zero affected rows.
func (r *ElementRepo) checkUpdated(ctx context.Context, res sql.Result, existsQuery string, id int64) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteElement removes an element and its payload row, then re-sequences
// the remaining elements of the layout.  It returns the layout id so the
// handler can notify viewers.
func (r *ElementRepo) DeleteElement(ctx context.Context, elementID int64) (layoutID int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if err = tx.QueryRowContext(ctx,
		`SELECT layout_id FROM elements WHERE id = ?`, elementID).Scan(&layoutID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM images WHERE element_id = ?`, elementID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM texts WHERE element_id = ?`, elementID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM webhooks WHERE element_id = ?`, elementID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, elementID); err != nil {
		return 0, err
	}
	if err = resequenceTx(ctx, tx, layoutID); err != nil {
		return 0, err
	}
	return layoutID, nil
}

// Reorder applies a submitted ordering to a layout's elements.  order[j] is
// the current index (by position rank) of the element that should end up at
// position j.  The whole batch is validated and applied inside one
// transaction: an index that is out of range or duplicated rolls everything
// back with ErrInvalidOrder.
func (r *ElementRepo) Reorder(ctx context.Context, layoutID int64, order []int) (err error) {
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

	ids, err := elementIDsByPosition(ctx, tx, layoutID)
	if err != nil {
		return err
	}
	positions, err := newPositions(len(ids), order)
	if err != nil {
		return err
	}
	for rank, pos := range positions {
		if pos == rank {
			continue
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE elements SET position = ? WHERE id = ?`, pos, ids[rank]); err != nil {
			return err
		}
	}
	return resequenceTx(ctx, tx, layoutID)
}

// elementIDsByPosition returns the layout's element ids ordered by their
// current position.
func elementIDsByPosition(ctx context.Context, tx *sql.Tx, layoutID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM elements WHERE layout_id = ? ORDER BY position, id`, layoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// resequenceTx rewrites element positions to 0..n-1 in current order.  The
// pass is idempotent: when positions are already dense it issues no updates.
func resequenceTx(ctx context.Context, tx *sql.Tx, layoutID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, position FROM elements WHERE layout_id = ? ORDER BY position, id`, layoutID)
	if err != nil {
		return err
	}
	var ids []int64
	var positions []int
	for rows.Next() {
		var id int64
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for rank, pos := range denseUpdates(positions) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE elements SET position = ? WHERE id = ?`, pos, ids[rank]); err != nil {
			return err
		}
	}
	return nil
}
