package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gnemet/datatable/entity"
)

// Runner executes builders against a database/sql connection.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	name    string
	logger  *slog.Logger
}

// NewRunner wraps db. name identifies the connection in schema caches and
// defaults to the dialect name.
func NewRunner(db *sql.DB, d Dialect, name string, logger *slog.Logger) *Runner {
	if name == "" {
		name = d.Name()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, dialect: d, name: name, logger: logger}
}

func (r *Runner) Name() string { return r.name }

func (r *Runner) Dialect() Dialect { return r.dialect }

// Paginate counts the filtered rows and fetches one page of them.
func (r *Runner) Paginate(ctx context.Context, b *Builder, page, perPage int) (*Page, error) {
	page, perPage = normalizePage(page, perPage)

	countSQL, countArgs := b.CountSQL(r.dialect)
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, r.wrap("count", err)
	}

	q := b.Clone().Limit(perPage).Offset((page - 1) * perPage)
	records, err := r.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	return NewPage(records, total, page, perPage), nil
}

// Get runs b and returns every row.
func (r *Runner) Get(ctx context.Context, b *Builder) ([]entity.Record, error) {
	query, args := b.ToSQL(r.dialect)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("select", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Find loads a single record by primary key. A missing row is (nil, nil).
func (r *Runner) Find(ctx context.Context, e *entity.Entity, id interface{}) (entity.Record, error) {
	b := New(e.Table).Where(e.PrimaryKey, "=", id).Limit(1)
	records, err := r.Get(ctx, b)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Columns lists the physical columns of table.
func (r *Runner) Columns(ctx context.Context, table string) ([]string, error) {
	query, args := r.dialect.ColumnsQuery(table)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("columns", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// LoadRelation eager-loads the relation chain path onto records. Each hop is
// one IN query; records without a match get nil (or an empty slice for
// has-many).
func (r *Runner) LoadRelation(ctx context.Context, e *entity.Entity, records []entity.Record, path []string) error {
	if len(path) == 0 || len(records) == 0 {
		return nil
	}
	rel, ok := e.Relation(path[0])
	if !ok || rel.Related == nil {
		return nil
	}

	keys := []interface{}{}
	seen := map[string]struct{}{}
	for _, rec := range records {
		v := rec[rel.ParentKey()]
		if v == nil {
			continue
		}
		k := fmt.Sprint(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}

	byKey := map[string][]entity.Record{}
	var loaded []entity.Record
	if len(keys) > 0 {
		rows, err := r.Get(ctx, New(rel.Related.Table).WhereIn(rel.RelatedKey(), keys))
		if err != nil {
			return fmt.Errorf("failed to load relation %s: %w", rel.Name, err)
		}
		for _, row := range rows {
			k := fmt.Sprint(row[rel.RelatedKey()])
			byKey[k] = append(byKey[k], row)
		}
		loaded = rows
	}

	for _, rec := range records {
		matches := byKey[fmt.Sprint(rec[rel.ParentKey()])]
		if rec[rel.ParentKey()] == nil {
			matches = nil
		}
		switch rel.Kind {
		case entity.HasMany:
			if matches == nil {
				matches = []entity.Record{}
			}
			rec[rel.Name] = matches
		default:
			if len(matches) > 0 {
				rec[rel.Name] = matches[0]
			} else {
				rec[rel.Name] = nil
			}
		}
	}

	return r.LoadRelation(ctx, rel.Related, loaded, path[1:])
}

func (r *Runner) wrap(op string, err error) error {
	if r.dialect.IsUndefinedColumn(err) {
		r.logger.Error("Query referenced an undefined column", "op", op, "error", err)
		return fmt.Errorf("%s failed: %w: %v", op, ErrUndefinedColumn, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func scanRows(rows *sql.Rows) ([]entity.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []entity.Record{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(entity.Record, len(cols))
		for i, col := range cols {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
