package databases

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDocStore is the document-of-record backend for the triple store: one row
// per record version, with a `natural_key` lineage column driving the
// is_latest renormalization used by profile-style upserts.
type pgDocStore struct{ pool *pgxpool.Pool }

func NewPostgresDocStore(pool *pgxpool.Pool) DocStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_records (
  id TEXT PRIMARY KEY,
  group_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL,
  natural_key TEXT NOT NULL,
  version INT NOT NULL DEFAULT 1,
  is_latest BOOLEAN NOT NULL DEFAULT TRUE,
  body JSONB NOT NULL,
  linked_ids TEXT[] NOT NULL DEFAULT '{}',
  occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS memory_records_lineage_idx ON memory_records(group_id, kind, natural_key)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS memory_records_user_idx ON memory_records(user_id, kind, occurred_at)`)
	return &pgDocStore{pool: pool}
}

func (p *pgDocStore) Upsert(ctx context.Context, rec DocRecord) error {
	naturalKey := rec.NaturalKey
	if naturalKey == "" {
		naturalKey = rec.ID
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO memory_records(id, group_id, user_id, kind, natural_key, version, is_latest, body, linked_ids, occurred_at, last_updated)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
ON CONFLICT (id) DO UPDATE SET
  body=EXCLUDED.body, linked_ids=EXCLUDED.linked_ids, version=EXCLUDED.version,
  is_latest=EXCLUDED.is_latest, last_updated=now()
`, rec.ID, rec.GroupID, rec.UserID, rec.Kind, naturalKey, rec.Version, rec.IsLatest, rec.Body, rec.LinkedIDs, rec.OccurredAt)
	return err
}

func (p *pgDocStore) Get(ctx context.Context, id string) (DocRecord, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, group_id, user_id, kind, natural_key, version, is_latest, body, linked_ids, occurred_at, last_updated
FROM memory_records WHERE id=$1`, id)
	var rec DocRecord
	if err := row.Scan(&rec.ID, &rec.GroupID, &rec.UserID, &rec.Kind, &rec.NaturalKey, &rec.Version, &rec.IsLatest, &rec.Body, &rec.LinkedIDs, &rec.OccurredAt, &rec.LastUpdated); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return DocRecord{}, false, nil
		}
		return DocRecord{}, false, err
	}
	return rec, true, nil
}

func (p *pgDocStore) VersionsByKey(ctx context.Context, groupID, kind, naturalKey string) ([]DocRecord, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, group_id, user_id, kind, natural_key, version, is_latest, body, linked_ids, occurred_at, last_updated
FROM memory_records
WHERE group_id=$1 AND kind=$2 AND natural_key=$3
ORDER BY version DESC`, groupID, kind, naturalKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DocRecord
	for rows.Next() {
		var rec DocRecord
		if err := rows.Scan(&rec.ID, &rec.GroupID, &rec.UserID, &rec.Kind, &rec.NaturalKey, &rec.Version, &rec.IsLatest, &rec.Body, &rec.LinkedIDs, &rec.OccurredAt, &rec.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListByUser paginates a user's records ordered by occurred_at, computing
// the total matching count with a separate count query so callers can
// derive has_more from one ListByUser call.
func (p *pgDocStore) ListByUser(ctx context.Context, userID, kind string, limit, offset int, sortOrder string, versionRange *VersionRange) ([]DocRecord, int, error) {
	order := "DESC"
	if sortOrder == "asc" {
		order = "ASC"
	}
	if limit <= 0 {
		limit = 20
	}

	// versionClauseAt renders the version filter with placeholders starting
	// at paramOffset: is_latest by default, or an explicit closed range
	// when the caller asked for one (ignoring is_latest for that call).
	versionClauseAt := func(paramOffset int) (string, []any) {
		if versionRange == nil {
			return "is_latest", nil
		}
		return fmt.Sprintf("version BETWEEN $%d AND $%d", paramOffset, paramOffset+1),
			[]any{versionRange.Start, versionRange.End}
	}

	var total int
	countClause, countExtra := versionClauseAt(3)
	countSQL := `SELECT count(*) FROM memory_records WHERE user_id=$1 AND ($2='' OR kind=$2) AND ` + countClause
	if err := p.pool.QueryRow(ctx, countSQL, append([]any{userID, kind}, countExtra...)...).Scan(&total); err != nil {
		return nil, 0, err
	}

	queryClause, queryExtra := versionClauseAt(5)
	querySQL := `
SELECT id, group_id, user_id, kind, natural_key, version, is_latest, body, linked_ids, occurred_at, last_updated
FROM memory_records
WHERE user_id=$1 AND ($2='' OR kind=$2) AND ` + queryClause + `
ORDER BY occurred_at ` + order + `
LIMIT $3 OFFSET $4`
	rows, err := p.pool.Query(ctx, querySQL, append([]any{userID, kind, limit, offset}, queryExtra...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []DocRecord
	for rows.Next() {
		var rec DocRecord
		if err := rows.Scan(&rec.ID, &rec.GroupID, &rec.UserID, &rec.Kind, &rec.NaturalKey, &rec.Version, &rec.IsLatest, &rec.Body, &rec.LinkedIDs, &rec.OccurredAt, &rec.LastUpdated); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// MarkLatest renormalizes is_latest within a single transaction: every
// sibling version is flipped false, then `id` is flipped true.
func (p *pgDocStore) MarkLatest(ctx context.Context, groupID, kind, naturalKey, id string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
UPDATE memory_records SET is_latest=FALSE, last_updated=now()
WHERE group_id=$1 AND kind=$2 AND natural_key=$3 AND id<>$4`, groupID, kind, naturalKey, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE memory_records SET is_latest=TRUE, last_updated=now()
WHERE id=$1`, id)
		return err
	})
}

func (p *pgDocStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_records WHERE id=$1`, id)
	return err
}
