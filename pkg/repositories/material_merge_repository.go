package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/catalog"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// MaterialMergeRepository performs the catalog-driven reference rewrites of
// material canonicalization and keeps the merge log.
type MaterialMergeRepository interface {
	// RewriteReferences repoints fk from oldID to newID. Child rows of oldID
	// that would collide with an existing row of newID under one of uniqueKeys
	// are deleted first and counted as dropped.
	RewriteReferences(ctx context.Context, fk catalog.ForeignKey, uniqueKeys []catalog.UniqueKey, oldID, newID int64) (updated, dropped int64, err error)
	CountReferences(ctx context.Context, fk catalog.ForeignKey, id int64) (int64, error)
	// CountDangling counts child rows whose material reference has no parent.
	CountDangling(ctx context.Context, fk catalog.ForeignKey) (int64, error)
	AppendLog(ctx context.Context, entry *models.MaterialMergeLog) error
}

type materialMergeRepository struct{}

// NewMaterialMergeRepository creates a new MaterialMergeRepository.
func NewMaterialMergeRepository() MaterialMergeRepository {
	return &materialMergeRepository{}
}

var _ MaterialMergeRepository = (*materialMergeRepository)(nil)

func (r *materialMergeRepository) RewriteReferences(ctx context.Context, fk catalog.ForeignKey, uniqueKeys []catalog.UniqueKey, oldID, newID int64) (int64, int64, error) {
	if fk.IsComposite() {
		return 0, 0, fmt.Errorf("cannot rewrite composite foreign key %s", fk.ConstraintName)
	}
	q, err := querier(ctx)
	if err != nil {
		return 0, 0, err
	}

	table := fk.QualifiedSource()
	col := catalog.QuoteColumn(fk.SourceColumn())

	var dropped int64
	for _, key := range catalog.KeysContaining(uniqueKeys, fk.SourceColumn()) {
		// "=" rather than IS NOT DISTINCT FROM: NULLs never collide in a unique index.
		conds := []string{fmt.Sprintf("s.%s = $2", col)}
		for _, c := range key.Columns {
			if c == fk.SourceColumn() {
				continue
			}
			qc := catalog.QuoteColumn(c)
			conds = append(conds, fmt.Sprintf("s.%s = c.%s", qc, qc))
		}
		query := fmt.Sprintf(`
			DELETE FROM %s c
			WHERE c.%s = $1
			  AND EXISTS (SELECT 1 FROM %s s WHERE %s)`,
			table, col, table, strings.Join(conds, " AND "))

		result, err := q.Exec(ctx, query, oldID, newID)
		if err != nil {
			return 0, dropped, fmt.Errorf("failed to drop colliding rows in %s (%s): %w", fk.SourceTable, key.IndexName, err)
		}
		dropped += result.RowsAffected()
	}

	result, err := q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`, table, col, col), oldID, newID)
	if err != nil {
		return 0, dropped, fmt.Errorf("failed to rewrite %s.%s: %w", fk.SourceTable, fk.SourceColumn(), err)
	}
	return result.RowsAffected(), dropped, nil
}

func (r *materialMergeRepository) CountReferences(ctx context.Context, fk catalog.ForeignKey, id int64) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	col := catalog.QuoteColumn(fk.SourceColumn())
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, fk.QualifiedSource(), col)
	if err := q.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count references in %s: %w", fk.SourceTable, err)
	}
	return n, nil
}

func (r *materialMergeRepository) CountDangling(ctx context.Context, fk catalog.ForeignKey) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	col := catalog.QuoteColumn(fk.SourceColumn())
	target := catalog.QualifiedTableName(fk.TargetSchema, fk.TargetTable)
	targetCol := catalog.QuoteColumn(fk.TargetColumns[0])
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s c
		WHERE c.%s IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)`,
		fk.QualifiedSource(), col, target, targetCol, col)

	var n int64
	if err := q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dangling references in %s: %w", fk.SourceTable, err)
	}
	return n, nil
}

func (r *materialMergeRepository) AppendLog(ctx context.Context, entry *models.MaterialMergeLog) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO material_merge_log (run_id, old_material_id, new_material_id)
		VALUES ($1, $2, $3)
		RETURNING merge_id, merged_at`

	if err := q.QueryRow(ctx, query, entry.RunID, entry.OldMaterialID, entry.NewMaterialID).Scan(&entry.ID, &entry.MergedAt); err != nil {
		return fmt.Errorf("failed to append merge log: %w", err)
	}
	return nil
}
