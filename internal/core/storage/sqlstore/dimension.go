package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// VersionsForKey returns all versions of a key ordered by valid_from.
func (a *Adapter) VersionsForKey(ctx context.Context, durableKey string) ([]warehouse.DimensionVersion, error) {
	rows, err := a.db.QueryContext(ctx, queryVersionsForKey, durableKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query dimension versions: %w", err)
	}
	defer rows.Close()

	var versions []warehouse.DimensionVersion
	for rows.Next() {
		v, err := scanVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dimension versions: %w", err)
	}
	return versions, nil
}

// CurrentVersion returns the open-ended version for a key.
func (a *Adapter) CurrentVersion(ctx context.Context, durableKey string) (*warehouse.DimensionVersion, error) {
	row := a.db.QueryRowContext(ctx, queryCurrentVersion, durableKey, warehouse.MaxValidTo)
	v, err := scanVersionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// ApplyRevision applies one truncate+insert pair in a single
// transaction. Re-inserting an existing (durable_key, valid_from)
// surfaces storage.ErrDuplicate and rolls the truncation back.
func (a *Adapter) ApplyRevision(ctx context.Context, rev warehouse.DimensionRevision) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if rev.Truncate != nil {
			res, err := tx.ExecContext(ctx, queryTruncateVersion,
				rev.Truncate.ValidTo.UTC(), rev.Truncate.SurrogateID)
			if err != nil {
				return fmt.Errorf("failed to truncate version: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read truncate result: %w", err)
			}
			if affected == 0 {
				return fmt.Errorf("truncate %s: %w", rev.Truncate.SurrogateID, storage.ErrNotFound)
			}
		}

		if rev.Insert != nil {
			v := rev.Insert
			attrsJSON, err := marshalJSONMap(v.Attributes)
			if err != nil {
				return err
			}
			createdAt := v.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}

			var inserted string
			err = tx.QueryRowContext(ctx, queryInsertVersion,
				v.SurrogateID,
				v.DurableKey,
				attrsJSON,
				v.ValidFrom.UTC(),
				v.ValidTo.UTC(),
				createdAt.UTC(),
			).Scan(&inserted)
			if err == sql.ErrNoRows {
				return storage.ErrDuplicate
			}
			if err != nil {
				return fmt.Errorf("failed to insert version: %w", err)
			}
		}
		return nil
	})
}
