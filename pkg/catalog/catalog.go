// Package catalog introspects PostgreSQL system catalogs for the relationships
// material canonicalization has to preserve.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
)

// QualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
// Otherwise returns "schema"."table".
func QualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// QuoteColumn quotes a single column identifier.
func QuoteColumn(column string) string {
	return pgx.Identifier{column}.Sanitize()
}

// ForeignKey is a foreign key constraint. Columns are in constraint order.
type ForeignKey struct {
	ConstraintName string
	SourceSchema   string
	SourceTable    string
	SourceColumns  []string
	TargetSchema   string
	TargetTable    string
	TargetColumns  []string
	Deferrable     bool
}

// IsComposite reports whether the constraint spans more than one column.
func (fk ForeignKey) IsComposite() bool {
	return len(fk.SourceColumns) != 1 || len(fk.TargetColumns) != 1
}

// SourceColumn returns the referencing column of a single-column key.
func (fk ForeignKey) SourceColumn() string {
	if len(fk.SourceColumns) == 0 {
		return ""
	}
	return fk.SourceColumns[0]
}

// QualifiedSource returns the quoted referencing table.
func (fk ForeignKey) QualifiedSource() string {
	return QualifiedTableName(fk.SourceSchema, fk.SourceTable)
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s.%s(%v) -> %s.%s(%v)", fk.SourceSchema, fk.SourceTable, fk.SourceColumns,
		fk.TargetSchema, fk.TargetTable, fk.TargetColumns)
}

// UniqueKey is a unique index (including primary keys) over plain columns.
type UniqueKey struct {
	IndexName string
	Columns   []string
	IsPrimary bool
}

// Contains reports whether column is part of the key.
func (k UniqueKey) Contains(column string) bool {
	for _, c := range k.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Inspector reads constraint metadata through the transaction in context, so
// what it reports is consistent with the locks the caller holds.
type Inspector interface {
	// ReferencingForeignKeys returns every foreign key whose target is schema.table.
	ReferencingForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error)
	// UniqueKeys returns the unique indexes of schema.table. Partial and
	// expression indexes are excluded.
	UniqueKeys(ctx context.Context, schema, table string) ([]UniqueKey, error)
}

type inspector struct {
	logger *zap.Logger
}

// NewInspector creates a catalog Inspector.
func NewInspector(logger *zap.Logger) Inspector {
	return &inspector{logger: logger.Named("catalog")}
}

var _ Inspector = (*inspector)(nil)

func (i *inspector) ReferencingForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	// pg_constraint rather than information_schema: conkey/confkey keep the
	// column order of composite keys, which information_schema joins lose.
	const query = `
		SELECT
			c.conname,
			sn.nspname,
			s.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			) AS source_columns,
			tn.nspname,
			t.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(c.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			) AS target_columns,
			c.condeferrable
		FROM pg_constraint c
		JOIN pg_class s ON s.oid = c.conrelid
		JOIN pg_namespace sn ON sn.oid = s.relnamespace
		JOIN pg_class t ON t.oid = c.confrelid
		JOIN pg_namespace tn ON tn.oid = t.relnamespace
		WHERE c.contype = 'f'
		  AND tn.nspname = $1
		  AND t.relname = $2
		ORDER BY sn.nspname, s.relname, c.conname`

	rows, err := q.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumns,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumns, &fk.Deferrable); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	i.logger.Debug("Discovered referencing foreign keys",
		zap.String("table", QualifiedTableName(schema, table)),
		zap.Int("count", len(fks)))
	return fks, nil
}

func (i *inspector) UniqueKeys(ctx context.Context, schema, table string) ([]UniqueKey, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT
			i.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			) AS columns,
			ix.indisprimary
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE ix.indisunique = true
		  AND ix.indpred IS NULL   -- partial indexes do not constrain every row
		  AND ix.indexprs IS NULL  -- expression indexes cannot be compared column-wise
		  AND n.nspname = $1
		  AND t.relname = $2
		ORDER BY i.relname`

	rows, err := q.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query unique keys: %w", err)
	}
	defer rows.Close()

	var keys []UniqueKey
	for rows.Next() {
		var k UniqueKey
		if err := rows.Scan(&k.IndexName, &k.Columns, &k.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan unique key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unique keys: %w", err)
	}
	return keys, nil
}

// CompositeKeys returns the composite keys among fks.
func CompositeKeys(fks []ForeignKey) []ForeignKey {
	var out []ForeignKey
	for _, fk := range fks {
		if fk.IsComposite() {
			out = append(out, fk)
		}
	}
	return out
}

// KeysContaining returns the unique keys that include column.
func KeysContaining(keys []UniqueKey, column string) []UniqueKey {
	var out []UniqueKey
	for _, k := range keys {
		if k.Contains(column) {
			out = append(out, k)
		}
	}
	return out
}
