// This file implements the ownership chain walk used by the authorization
// middleware.  For any path-addressed resource the chain is fixed:
// image/text/webhook -> element -> layout -> broadcaster.  The walk is a
// single read-only query per resource and is never cached across requests,
// since ownership can change between requests (e.g. a layout was deleted).
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bitspanel/ebs/internal/model"
)

// OwnershipRepo resolves which broadcaster owns a path-addressed resource.
type OwnershipRepo struct {
	db *sql.DB
}

// NewOwnershipRepo constructs an OwnershipRepo with the provided DB handle.
func NewOwnershipRepo(db *sql.DB) *OwnershipRepo {
	return &OwnershipRepo{db: db}
}

// OwnerOf walks the ownership chain for one resource and returns the id of
// the broadcaster that owns it.  A resource that does not exist at all fails
// with ErrNotFound, never with a forbidden-style answer; the caller decides
// what an ownership mismatch means.
func (r *OwnershipRepo) OwnerOf(ctx context.Context, kind model.ResourceKind, id int64) (int64, error) {
	var q string
	switch kind {
	case model.KindLayout:
		q = `SELECT broadcaster_id FROM layouts WHERE id = ?`
	case model.KindElement:
		q = `SELECT l.broadcaster_id FROM elements e
		     JOIN layouts l ON l.id = e.layout_id
		     WHERE e.id = ?`
	case model.KindImage:
		q = `SELECT l.broadcaster_id FROM images i
		     JOIN elements e ON e.id = i.element_id
		     JOIN layouts l ON l.id = e.layout_id
		     WHERE i.id = ?`
	case model.KindText:
		q = `SELECT l.broadcaster_id FROM texts t
		     JOIN elements e ON e.id = t.element_id
		     JOIN layouts l ON l.id = e.layout_id
		     WHERE t.id = ?`
	case model.KindWebhook:
		q = `SELECT l.broadcaster_id FROM webhooks w
		     JOIN elements e ON e.id = w.element_id
		     JOIN layouts l ON l.id = e.layout_id
		     WHERE w.id = ?`
	default:
		return 0, fmt.Errorf("unknown resource kind %q", kind)
	}

	var owner int64
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return owner, nil
}
